package sip_engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/media"
)

// direction кто начал вызов
type direction int

const (
	directionOutgoing direction = iota
	directionIncoming
)

// sessionState состояние INVITE диалога
type sessionState int

const (
	stateEarly sessionState = iota
	stateConfirmed
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateEarly:
		return "early"
	case stateConfirmed:
		return "confirmed"
	}
	return "terminated"
}

// supportedCodecs кодеки в порядке предпочтения
var supportedCodecs = []uint8{payloadPCMU, payloadPCMA}

var errNotEstablished = errors.New("вызов не установлен")

// session реализация engine.Session: один INVITE диалог и его RTP поток
type session struct {
	ua    *UA
	dir   direction
	media *rtpSession
	sdpID uint64

	id  string
	log logger.StructuredLogger

	mu           sync.Mutex
	state        sessionState
	client       *sipgo.DialogClientSession
	server       *sipgo.DialogServerSession
	inviteReq    *sip.Request
	inviteTx     sip.ServerTransaction
	remote       remoteMedia
	codec        uint8
	hold         engine.HoldStatus
	muted        engine.MediaFlags
	cseq         uint32
	sdpVersion   uint64
	localCancel  bool
	inviteCtx    context.Context
	cancelInvite context.CancelFunc

	settled     chan struct{}
	settleOnce  sync.Once
	releaseOnce sync.Once
}

var _ engine.Session = (*session)(nil)

func newSession(u *UA, dir direction, m *rtpSession) *session {
	return &session{
		ua:      u,
		dir:     dir,
		media:   m,
		sdpID:   uint64(randomUint32()),
		log:     u.log,
		codec:   payloadPCMU,
		settled: make(chan struct{}),
	}
}

// attachClient связывает сессию с исходящим диалогом
func (s *session) attachClient(dlg *sipgo.DialogClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = dlg
	s.inviteReq = dlg.InviteRequest
	s.id = callIDOf(dlg.InviteRequest)
	if h := dlg.InviteRequest.CSeq(); h != nil {
		s.cseq = h.SeqNo
	}
	s.inviteCtx, s.cancelInvite = context.WithCancel(s.ua.ctx)
	s.log = s.ua.log.WithFields(logger.String("call_id", s.id))
}

// attachServer связывает сессию с входящим диалогом и его offer
func (s *session) attachServer(dlg *sipgo.DialogServerSession, req *sip.Request, tx sip.ServerTransaction, offer remoteMedia) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = dlg
	s.inviteReq = req
	s.inviteTx = tx
	s.remote = offer
	s.codec = offer.Codecs[0]
	s.id = callIDOf(req)
	s.log = s.ua.log.WithFields(logger.String("call_id", s.id))
}

func (s *session) ID() string { return s.id }

// localDescriptionLocked новая версия локального SDP
func (s *session) localDescriptionLocked(dir string, codecs []uint8) ([]byte, error) {
	s.sdpVersion++
	return buildSDP(localMedia{
		Host:            s.ua.localHost,
		Port:            s.media.LocalAddr().Port,
		SessionID:       s.sdpID,
		Version:         s.sdpVersion,
		Direction:       dir,
		Codecs:          codecs,
		DTMFPayloadType: s.ua.cfg.DTMFPayloadType,
	})
}

func (s *session) localDescription(dir string, codecs []uint8) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localDescriptionLocked(dir, codecs)
}

// settle снимает ожидание входящей транзакции
func (s *session) settle() {
	s.settleOnce.Do(func() { close(s.settled) })
}

// release освобождает медиа. Повторный вызов ничего не делает.
func (s *session) release() {
	s.releaseOnce.Do(func() {
		s.media.Close()
		if s.cancelInvite != nil {
			s.cancelInvite()
		}
	})
}

// finish завершает сессию и сообщает итоговое событие
func (s *session) finish(ev engine.Event) {
	s.release()
	s.ua.removeSession(s)
	s.settle()
	s.log.Info(s.ua.ctx, "сессия завершена", logger.String("event", ev.EventName()))
	s.ua.events.push(ev)
}

// confirm запускает медиа и сообщает о принятии вызова
func (s *session) confirm(remote remoteMedia, codec uint8, dir string) {
	s.media.SetRemote(remote.Addr, codec)
	s.media.SetSending(dir == dirSendRecv || dir == dirSendOnly)
	s.media.Start()
	s.settle()
	s.ua.events.push(engine.SessionAccepted{Session: s})
	s.ua.events.push(engine.TrackAdded{Session: s, Track: s.media.remoteTrack})
}

// waitAnswer ждет финальный ответ на исходящий INVITE
func (s *session) waitAnswer() {
	s.mu.Lock()
	dlg, ctx := s.client, s.inviteCtx
	s.mu.Unlock()

	err := dlg.WaitAnswer(ctx, sipgo.AnswerOptions{
		Username: s.ua.aor.User,
		Password: s.ua.uaCfg.Password,
	})
	if err != nil {
		s.outgoingFailed(dlg, err)
		return
	}

	remote, sdpErr := parseSDP(dlg.InviteResponse.Body())
	if err := s.ackInvite(dlg); err != nil {
		s.log.Warn(ctx, "ошибка отправки ACK", logger.Err(err))
	}

	s.mu.Lock()
	if s.state != stateEarly {
		s.mu.Unlock()
		return
	}
	s.state = stateConfirmed
	if h := dlg.InviteRequest.CSeq(); h != nil && h.SeqNo > s.cseq {
		s.cseq = h.SeqNo
	}
	if sdpErr == nil {
		s.remote = remote
		s.codec = remote.Codecs[0]
		s.hold.Remote = remote.OnHold()
	}
	codec := s.codec
	s.mu.Unlock()

	if sdpErr != nil {
		s.log.Warn(ctx, "ответ без подходящего SDP, вызов завершается", logger.Err(sdpErr))
		if err := s.sendBye(ctx, nil); err != nil {
			s.log.Debug(ctx, "ошибка отправки BYE", logger.Err(err))
		}
		s.mu.Lock()
		s.state = stateTerminated
		s.mu.Unlock()
		s.finish(engine.SessionFailed{Session: s, Originator: engine.OriginatorLocal, Cause: causeBadMediaDesc})
		return
	}

	s.log.Info(ctx, "исходящий вызов принят", logger.Int("status", int(dlg.InviteResponse.StatusCode)))
	s.confirm(remote, codec, answerDirection(remote.Direction, false))
}

func (s *session) ackInvite(dlg *sipgo.DialogClientSession) error {
	ctx, cancel := context.WithTimeout(s.ua.ctx, s.ua.cfg.RequestTimeout)
	defer cancel()
	return dlg.Ack(ctx)
}

// outgoingFailed разбирает причину неудачного исходящего вызова
func (s *session) outgoingFailed(dlg *sipgo.DialogClientSession, err error) {
	s.mu.Lock()
	if s.state != stateEarly {
		s.mu.Unlock()
		return
	}
	s.state = stateTerminated
	canceled := s.localCancel
	s.mu.Unlock()

	originator, cause := engine.OriginatorSystem, causeConnectionError
	res := responseFromError(err)
	if res == nil && dlg.InviteResponse != nil && int(dlg.InviteResponse.StatusCode) >= 300 {
		res = dlg.InviteResponse
	}
	switch {
	case canceled:
		originator, cause = engine.OriginatorLocal, causeCanceled
	case res != nil:
		originator, cause = engine.OriginatorRemote, causeFromStatus(int(res.StatusCode))
	case errors.Is(err, context.DeadlineExceeded):
		cause = causeRequestTimeout
	}
	s.log.Info(s.ua.ctx, "исходящий вызов не установлен",
		logger.String("cause", cause),
		logger.Err(err))
	s.finish(engine.SessionFailed{Session: s, Originator: originator, Cause: cause})
}

// waitSettled держит обработчик INVITE до ответа, отказа или отмены
func (s *session) waitSettled(ctx context.Context, tx sip.ServerTransaction) {
	select {
	case <-s.settled:
	case <-tx.Done():
		s.failEarly(engine.OriginatorRemote, causeCanceled)
	case <-ctx.Done():
	}
}

// failEarly завершает еще не принятый входящий вызов без ответа
func (s *session) failEarly(originator engine.Originator, cause string) bool {
	s.mu.Lock()
	if s.state != stateEarly {
		s.mu.Unlock()
		return false
	}
	s.state = stateTerminated
	s.mu.Unlock()
	s.finish(engine.SessionFailed{Session: s, Originator: originator, Cause: cause})
	return true
}

// remoteCancel CANCEL на входящий вызов
func (s *session) remoteCancel() {
	s.mu.Lock()
	if s.dir != directionIncoming || s.state != stateEarly {
		s.mu.Unlock()
		return
	}
	s.state = stateTerminated
	s.mu.Unlock()

	if err := s.rejectInvite(487, "Request Terminated", nil); err != nil {
		s.log.Debug(s.ua.ctx, "ошибка отправки 487", logger.Err(err))
	}
	s.finish(engine.SessionFailed{Session: s, Originator: engine.OriginatorRemote, Cause: causeCanceled})
}

// remoteBye BYE от удаленной стороны
func (s *session) remoteBye() {
	s.mu.Lock()
	prev := s.state
	s.state = stateTerminated
	s.mu.Unlock()

	switch prev {
	case stateConfirmed:
		s.finish(engine.SessionEnded{Session: s, Originator: engine.OriginatorRemote, Cause: causeTerminated})
	case stateEarly:
		s.finish(engine.SessionFailed{Session: s, Originator: engine.OriginatorRemote, Cause: causeTerminated})
	}
}

// rejectInvite финальный отказ на входящий INVITE
func (s *session) rejectInvite(code int, reason string, headers []sip.Header) error {
	s.mu.Lock()
	req, tx := s.inviteReq, s.inviteTx
	s.mu.Unlock()

	res := sip.NewResponseFromRequest(req, code, reason, nil)
	ensureToTag(res)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	return tx.Respond(res)
}

// Answer отвечает 200 OK на входящий INVITE
func (s *session) Answer(ctx context.Context, opts engine.AnswerOptions) error {
	s.mu.Lock()
	if s.dir != directionIncoming {
		s.mu.Unlock()
		return fmt.Errorf("ответить можно только на входящий вызов")
	}
	if s.state != stateEarly {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("нельзя ответить на вызов в состоянии %s", state)
	}
	remote, codec := s.remote, s.codec
	dir := answerDirection(remote.Direction, false)
	body, err := s.localDescriptionLocked(dir, []uint8{codec})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// CANCEL после этой точки уже не отменяет вызов
	s.state = stateConfirmed
	s.hold.Remote = remote.OnHold()
	dlg := s.server
	s.mu.Unlock()

	headers := []sip.Header{
		sip.NewHeader("Content-Type", "application/sdp"),
		sip.NewHeader("Allow", allowedMethods),
	}
	if opts.SessionTimersExpires > 0 {
		headers = append(headers,
			sip.NewHeader("Session-Expires", strconv.Itoa(opts.SessionTimersExpires)+";refresher=uac"),
			sip.NewHeader("Supported", "timer"))
	}
	headers = append(headers, parseExtraHeaders(opts.ExtraHeaders)...)

	if err := dlg.Respond(sip.StatusOK, "OK", body, headers...); err != nil {
		s.mu.Lock()
		s.state = stateTerminated
		s.mu.Unlock()
		s.finish(engine.SessionFailed{Session: s, Originator: engine.OriginatorSystem, Cause: causeConnectionError})
		return fmt.Errorf("ошибка отправки 200 OK: %w", err)
	}

	s.log.Info(ctx, "входящий вызов принят")
	s.confirm(remote, codec, dir)
	return nil
}

// Terminate отменяет, отклоняет или завершает вызов в зависимости от
// его состояния
func (s *session) Terminate(ctx context.Context, opts engine.TerminateOptions) error {
	s.mu.Lock()
	state := s.state
	switch {
	case state == stateTerminated:
		s.mu.Unlock()
		return nil

	case state == stateEarly && s.dir == directionOutgoing:
		s.localCancel = true
		cancel := s.cancelInvite
		s.mu.Unlock()
		// WaitAnswer отправит CANCEL, SessionFailed придет из waitAnswer
		cancel()
		return nil

	case state == stateEarly:
		code := opts.StatusCode
		if code == 0 {
			code = 480
		}
		if code < 300 || code > 699 {
			s.mu.Unlock()
			return fmt.Errorf("некорректный код отказа: %d", code)
		}
		s.state = stateTerminated
		s.mu.Unlock()

		reason := opts.ReasonPhrase
		if reason == "" {
			reason = defaultReason(code)
		}
		err := s.rejectInvite(code, reason, parseExtraHeaders(opts.ExtraHeaders))
		s.finish(engine.SessionFailed{Session: s, Originator: engine.OriginatorLocal, Cause: causeRejected})
		if err != nil {
			return fmt.Errorf("ошибка отправки %d: %w", code, err)
		}
		return nil
	}

	s.state = stateTerminated
	s.mu.Unlock()

	err := s.sendBye(ctx, parseExtraHeaders(opts.ExtraHeaders))
	s.finish(engine.SessionEnded{Session: s, Originator: engine.OriginatorLocal, Cause: causeTerminated})
	return err
}

func (s *session) sendBye(ctx context.Context, headers []sip.Header) error {
	req, err := s.newRequest(sip.BYE)
	if err != nil {
		return err
	}
	for _, h := range headers {
		req.AppendHeader(h)
	}
	res, err := s.send(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки BYE: %w", err)
	}
	if code := int(res.StatusCode); code >= 300 {
		s.log.Warn(ctx, "BYE отклонен", logger.Int("status", code))
	}
	return nil
}

// newRequest запрос внутри установленного диалога
func (s *session) newRequest(method sip.RequestMethod) (*sip.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		from   *sip.FromHeader
		to     *sip.ToHeader
		target sip.Uri
		routes []string
	)
	switch s.dir {
	case directionOutgoing:
		inv, res := s.client.InviteRequest, s.client.InviteResponse
		if res == nil || res.To() == nil {
			return nil, errNotEstablished
		}
		f, t := inv.From(), res.To()
		from = &sip.FromHeader{DisplayName: f.DisplayName, Address: f.Address, Params: f.Params.Clone()}
		to = &sip.ToHeader{DisplayName: t.DisplayName, Address: t.Address, Params: t.Params.Clone()}
		target = inv.Recipient
		if c := res.Contact(); c != nil {
			target = c.Address
		}
		rr := res.GetHeaders("Record-Route")
		for i := len(rr) - 1; i >= 0; i-- {
			routes = append(routes, rr[i].Value())
		}
	default:
		inv, res := s.inviteReq, s.server.InviteResponse
		if res == nil || res.To() == nil {
			return nil, errNotEstablished
		}
		f, t := res.To(), inv.From()
		from = &sip.FromHeader{DisplayName: f.DisplayName, Address: f.Address, Params: f.Params.Clone()}
		to = &sip.ToHeader{DisplayName: t.DisplayName, Address: t.Address, Params: t.Params.Clone()}
		target = t.Address
		if c := inv.Contact(); c != nil {
			target = c.Address
		}
		for _, h := range inv.GetHeaders("Record-Route") {
			routes = append(routes, h.Value())
		}
	}

	s.cseq++
	req := sip.NewRequest(method, target)
	req.AppendHeader(from)
	req.AppendHeader(to)
	callID := sip.CallIDHeader(s.id)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq, MethodName: method})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	contact := s.ua.contact
	req.AppendHeader(&contact)
	for _, r := range routes {
		req.AppendHeader(sip.NewHeader("Route", r))
	}
	s.ua.route(req)
	return req, nil
}

// send отправляет запрос внутри диалога, на 401/407 повторяет с
// авторизацией
func (s *session) send(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ua.cfg.RequestTimeout)
	defer cancel()

	res, err := s.ua.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if code := int(res.StatusCode); code == 401 || code == 407 {
		res, err = s.ua.client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
			Username: s.ua.aor.User,
			Password: s.ua.uaCfg.Password,
		})
		if err != nil {
			return nil, err
		}
		if h := req.CSeq(); h != nil {
			s.mu.Lock()
			if h.SeqNo > s.cseq {
				s.cseq = h.SeqNo
			}
			s.mu.Unlock()
		}
	}
	return res, nil
}

// ack подтверждает 2xx на re-INVITE
func (s *session) ack(req *sip.Request, res *sip.Response) error {
	ack := sip.NewRequest(sip.ACK, req.Recipient)
	sip.CopyHeaders("From", req, ack)
	sip.CopyHeaders("Call-ID", req, ack)
	sip.CopyHeaders("Route", req, ack)
	if to := res.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	if h := req.CSeq(); h != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: h.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	s.ua.route(ack)
	return s.ua.client.WriteRequest(ack)
}

// sendOffer re-INVITE или UPDATE с новым направлением медиа
func (s *session) sendOffer(ctx context.Context, dir string, useUpdate bool, extra []string) error {
	s.mu.Lock()
	if s.state != stateConfirmed {
		s.mu.Unlock()
		return errNotEstablished
	}
	body, err := s.localDescriptionLocked(dir, []uint8{s.codec})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	method := sip.INVITE
	if useUpdate {
		method = sip.UPDATE
	}
	req, err := s.newRequest(method)
	if err != nil {
		return err
	}
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	for _, h := range parseExtraHeaders(extra) {
		req.AppendHeader(h)
	}
	req.SetBody(body)

	res, err := s.send(ctx, req)
	if err != nil {
		return fmt.Errorf("ошибка отправки %s: %w", method, err)
	}
	code := int(res.StatusCode)
	if method == sip.INVITE && code >= 200 && code < 300 {
		if err := s.ack(req, res); err != nil {
			s.log.Warn(ctx, "ошибка отправки ACK на re-INVITE", logger.Err(err))
		}
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%s отклонен: %d %s", method, code, res.Reason)
	}

	if answer, err := parseSDP(res.Body()); err == nil {
		s.mu.Lock()
		s.remote = answer
		s.codec = answer.Codecs[0]
		s.mu.Unlock()
		s.media.SetRemote(answer.Addr, answer.Codecs[0])
	}
	return nil
}

// handleOffer re-INVITE или UPDATE от удаленной стороны
func (s *session) handleOffer(req *sip.Request, tx sip.ServerTransaction) {
	s.mu.Lock()
	if s.state != stateConfirmed {
		s.mu.Unlock()
		s.ua.respond(tx, req, 491, "Request Pending", nil)
		return
	}
	var offer remoteMedia
	if len(req.Body()) > 0 {
		var err error
		if offer, err = parseSDP(req.Body()); err != nil {
			s.mu.Unlock()
			s.log.Warn(s.ua.ctx, "re-INVITE с некорректным SDP", logger.Err(err))
			s.ua.respond(tx, req, 488, "Not Acceptable Here", nil)
			return
		}
	} else {
		// offer без SDP: отвечаем своим описанием
		offer = s.remote
	}
	wasHeld := s.hold.Remote
	s.remote = offer
	s.codec = offer.Codecs[0]
	s.hold.Remote = offer.OnHold()
	localHold := s.hold.Local
	dir := answerDirection(offer.Direction, localHold)
	body, err := s.localDescriptionLocked(dir, []uint8{s.codec})
	codec := s.codec
	s.mu.Unlock()

	if err != nil {
		s.ua.respond(tx, req, 500, "Server Internal Error", nil)
		return
	}
	s.media.SetRemote(offer.Addr, codec)
	s.media.SetSending(dir == dirSendRecv || dir == dirSendOnly)

	contact := s.ua.contact
	s.ua.respond(tx, req, 200, "OK", body,
		sip.NewHeader("Content-Type", "application/sdp"),
		&contact)

	if wasHeld && !offer.OnHold() {
		s.ua.events.push(engine.SessionUnhold{Session: s, Originator: engine.OriginatorRemote})
	}
}

// mediaDirection направление локального offer по состоянию удержания
func mediaDirection(localHold, remoteHold bool) string {
	switch {
	case localHold && remoteHold:
		return dirInactive
	case localHold:
		return dirSendOnly
	case remoteHold:
		return dirRecvOnly
	}
	return dirSendRecv
}

// Hold ставит вызов на удержание. Возвращается после 2xx.
func (s *session) Hold(ctx context.Context, opts engine.HoldOptions) error {
	s.mu.Lock()
	if s.state != stateConfirmed {
		s.mu.Unlock()
		return errNotEstablished
	}
	if s.hold.Local {
		s.mu.Unlock()
		return nil
	}
	dir := mediaDirection(true, s.hold.Remote)
	s.mu.Unlock()

	if err := s.sendOffer(ctx, dir, opts.UseUpdate, opts.ExtraHeaders); err != nil {
		return err
	}
	s.mu.Lock()
	s.hold.Local = true
	s.mu.Unlock()
	s.media.SetSending(false)
	return nil
}

// Unhold снимает удержание. Возвращается после 2xx.
func (s *session) Unhold(ctx context.Context, opts engine.HoldOptions) error {
	s.mu.Lock()
	if s.state != stateConfirmed {
		s.mu.Unlock()
		return errNotEstablished
	}
	if !s.hold.Local {
		s.mu.Unlock()
		return nil
	}
	remoteHold := s.hold.Remote
	dir := mediaDirection(false, remoteHold)
	s.mu.Unlock()

	if err := s.sendOffer(ctx, dir, opts.UseUpdate, opts.ExtraHeaders); err != nil {
		return err
	}
	s.mu.Lock()
	s.hold.Local = false
	s.mu.Unlock()
	s.media.SetSending(!remoteHold)
	s.ua.events.push(engine.SessionUnhold{Session: s, Originator: engine.OriginatorLocal})
	return nil
}

func (s *session) IsOnHold() engine.HoldStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hold
}

// Mute заглушает микрофон. Видео в этом движке нет, флаг только
// запоминается.
func (s *session) Mute(flags engine.MediaFlags) error {
	s.mu.Lock()
	s.muted.Audio = s.muted.Audio || flags.Audio
	s.muted.Video = s.muted.Video || flags.Video
	audio := s.muted.Audio
	s.mu.Unlock()
	s.media.SetMuted(audio)
	return nil
}

func (s *session) Unmute(flags engine.MediaFlags) error {
	s.mu.Lock()
	if flags.Audio {
		s.muted.Audio = false
	}
	if flags.Video {
		s.muted.Video = false
	}
	audio := s.muted.Audio
	s.mu.Unlock()
	s.media.SetMuted(audio)
	return nil
}

func (s *session) IsMuted() engine.MediaFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SendDTMF отправляет тоны через INFO или в RTP потоке. Тоны уходят в
// фоне, ошибка возвращается только для некорректных аргументов.
func (s *session) SendDTMF(ctx context.Context, tones string, opts engine.DTMFOptions) error {
	if err := media.ValidateTones(tones); err != nil {
		return err
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != stateConfirmed {
		return errNotEstablished
	}

	switch opts.TransportType {
	case engine.DTMFTransportINFO:
		duration, gap := media.NormalizeToneTiming(opts.Duration, opts.InterToneGap)
		go s.sendInfoDTMF(tones, duration, gap, opts.ExtraHeaders)
		return nil
	case engine.DTMFTransportRFC4733, engine.DTMFTransportRFC2833, "":
		return s.media.sender.DTMF().InsertDTMF(tones, opts.Duration, opts.InterToneGap)
	}
	return fmt.Errorf("неподдерживаемый способ передачи DTMF: %s", opts.TransportType)
}

func (s *session) sendInfoDTMF(tones string, duration, gap time.Duration, extra []string) {
	ctx := s.media.ctx
	for _, r := range tones {
		if r == media.DTMFPause {
			if !sleepCtx(ctx, media.DTMFPauseDuration) {
				return
			}
			continue
		}
		req, err := s.newRequest(sip.INFO)
		if err != nil {
			return
		}
		req.AppendHeader(sip.NewHeader("Content-Type", dtmfRelayContentType))
		for _, h := range parseExtraHeaders(extra) {
			req.AppendHeader(h)
		}
		req.SetBody(dtmfRelayBody(r, duration))

		res, err := s.send(ctx, req)
		if err != nil {
			s.log.Warn(ctx, "ошибка отправки DTMF через INFO", logger.Err(err))
			return
		}
		if code := int(res.StatusCode); code >= 300 {
			s.log.Warn(ctx, "INFO с DTMF отклонен", logger.Int("status", code))
			return
		}
		if !sleepCtx(ctx, duration+gap) {
			return
		}
	}
}

// Renegotiate повторно отправляет offer с текущим направлением
func (s *session) Renegotiate(ctx context.Context, opts engine.RenegotiateOptions) error {
	s.mu.Lock()
	dir := mediaDirection(s.hold.Local, s.hold.Remote)
	s.mu.Unlock()
	return s.sendOffer(ctx, dir, opts.UseUpdate, opts.ExtraHeaders)
}

// Connection медиа сессия, nil до установления вызова
func (s *session) Connection() engine.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateEarly {
		return nil
	}
	return s.media
}
