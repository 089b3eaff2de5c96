package sip_engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
)

const (
	// stopTimeout ограничение на BYE и снятие регистрации при Stop
	stopTimeout = 2 * time.Second
	// maxReconnectDelay верхняя граница паузы между попытками подключения
	maxReconnectDelay = 30 * time.Second
	allowedMethods    = "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO, UPDATE"
)

var (
	ErrNotStarted   = errors.New("UA не запущен")
	ErrStopped      = errors.New("UA остановлен")
	ErrNotConnected = errors.New("нет соединения с сервером")
)

// connState состояние соединения с регистратором
type connState int

const (
	connIdle connState = iota
	connConnecting
	connConnected
	connDisconnected
)

// UA реализация engine.UA поверх sipgo
type UA struct {
	cfg    Config
	uaCfg  engine.UAConfig
	aor    sip.Uri
	target socketTarget
	log    logger.StructuredLogger
	events *eventQueue

	handler engine.Handler

	mu         sync.Mutex
	sipUA      *sipgo.UserAgent
	client     *sipgo.Client
	dialogCli  *sipgo.DialogClientCache
	dialogSrv  *sipgo.DialogServerCache
	contact    sip.ContactHeader
	localHost  string
	state      connState
	started    bool
	stopped    bool
	registered bool
	sessions   map[string]*session

	regHeaders []string
	regCallID  sip.CallIDHeader
	regTag     string
	regCSeq    uint32
	refresh    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ engine.UA = (*UA)(nil)

func newUA(cfg Config, uaCfg engine.UAConfig, aor sip.Uri, target socketTarget, handler engine.Handler, log logger.StructuredLogger) *UA {
	return &UA{
		cfg:       cfg,
		uaCfg:     uaCfg,
		aor:       aor,
		target:    target,
		log:       log,
		events:    newEventQueue(),
		handler:   handler,
		sessions:  make(map[string]*session),
		regCallID: sip.CallIDHeader(uuid.NewString()),
		regTag:    sip.GenerateTagN(16),
	}
}

// Start создает стек sipgo и начинает подключение. Connecting
// доставляется сразу, Connected после первого ответа сервера на OPTIONS.
func (u *UA) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.stopped {
		return ErrStopped
	}
	if u.started {
		return fmt.Errorf("UA уже запущен")
	}

	localHost, err := u.resolveLocalHost()
	if err != nil {
		return err
	}

	sipUA, err := sipgo.NewUA(
		sipgo.WithUserAgent(u.cfg.UserAgent),
		sipgo.WithUserAgentHostname(localHost),
	)
	if err != nil {
		return fmt.Errorf("ошибка создания User Agent: %w", err)
	}
	client, err := sipgo.NewClient(sipUA, sipgo.WithClientHostname(localHost))
	if err != nil {
		_ = sipUA.Close()
		return fmt.Errorf("ошибка создания клиента: %w", err)
	}
	server, err := sipgo.NewServer(sipUA)
	if err != nil {
		_ = sipUA.Close()
		return fmt.Errorf("ошибка создания сервера: %w", err)
	}

	// Для udp нужен свой слушатель, иначе входящие запросы не дойдут.
	// Потоковые транспорты принимают запросы по исходящему соединению.
	var packetConn net.PacketConn
	contactPort := 0
	if u.target.Transport == "udp" {
		packetConn, err = net.ListenPacket("udp", net.JoinHostPort(localHost, strconv.Itoa(u.cfg.ListenPort)))
		if err != nil {
			_ = sipUA.Close()
			return fmt.Errorf("ошибка открытия UDP порта: %w", err)
		}
		contactPort = packetConn.LocalAddr().(*net.UDPAddr).Port
	}

	u.contact = sip.ContactHeader{
		Address: sip.Uri{
			User:      u.aor.User,
			Host:      localHost,
			Port:      contactPort,
			UriParams: sip.NewParams(),
		},
		Params: sip.NewParams(),
	}
	if u.target.Transport != "udp" {
		u.contact.Address.UriParams = u.contact.Address.UriParams.Add("transport", u.target.Transport)
	}

	u.sipUA = sipUA
	u.client = client
	u.localHost = localHost
	u.dialogCli = sipgo.NewDialogClientCache(client, u.contact)
	u.dialogSrv = sipgo.NewDialogServerCache(client, u.contact)
	u.registerHandlers(server)

	u.ctx, u.cancel = context.WithCancel(context.Background())
	u.started = true

	go u.events.run(u.handler)

	if packetConn != nil {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			if err := server.ServeUDP(packetConn); err != nil && u.ctx.Err() == nil {
				u.log.LogError(u.ctx, err, "UDP слушатель остановлен")
			}
		}()
	}

	u.log.Info(ctx, "UA запущен",
		logger.String("server", u.target.Addr()),
		logger.String("contact", u.contact.Address.String()))

	u.wg.Add(1)
	go u.connectLoop()
	return nil
}

// resolveLocalHost адрес локального интерфейса, через который виден
// регистратор
func (u *UA) resolveLocalHost() (string, error) {
	if u.cfg.LocalHost != "" {
		return u.cfg.LocalHost, nil
	}
	conn, err := net.Dial("udp", u.target.Addr())
	if err != nil {
		return "", fmt.Errorf("не удалось определить локальный адрес: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func (u *UA) registerHandlers(srv *sipgo.Server) {
	srv.OnInvite(u.onInvite)
	srv.OnAck(u.onAck)
	srv.OnBye(u.onBye)
	srv.OnCancel(u.onCancel)
	srv.OnOptions(u.onOptions)
	srv.OnRequest(sip.INFO, u.onInfo)
	srv.OnRequest(sip.UPDATE, u.onUpdate)
}

// connectLoop проверяет доступность сервера OPTIONS запросами и
// переподключается с растущей паузой
func (u *UA) connectLoop() {
	defer u.wg.Done()

	delay := time.Second
	u.setConnState(connConnecting, "")
	for {
		err := u.probe(u.ctx)
		if u.ctx.Err() != nil {
			return
		}
		if err != nil {
			u.log.Warn(u.ctx, "сервер недоступен",
				logger.String("server", u.target.Addr()),
				logger.Err(err))
			u.setConnState(connDisconnected, causeConnectionError)
			if !sleepCtx(u.ctx, delay) {
				return
			}
			delay = min(delay*2, maxReconnectDelay)
			u.setConnState(connConnecting, "")
			continue
		}

		delay = time.Second
		if u.setConnState(connConnected, "") && u.uaCfg.Register {
			if err := u.Register(u.ctx); err != nil {
				u.log.Debug(u.ctx, "автоматическая регистрация не удалась", logger.Err(err))
			}
		}
		if !sleepCtx(u.ctx, u.cfg.KeepAliveInterval) {
			return
		}
	}
}

// setConnState меняет состояние соединения и сообщает об изменении.
// Возвращает false, если состояние не изменилось.
func (u *UA) setConnState(state connState, cause string) bool {
	u.mu.Lock()
	if u.state == state || u.stopped {
		u.mu.Unlock()
		return false
	}
	u.state = state
	if state == connDisconnected {
		u.registered = false
		u.stopRefreshLocked()
	}
	u.mu.Unlock()

	switch state {
	case connConnecting:
		u.events.push(engine.Connecting{})
	case connConnected:
		u.log.Info(u.ctx, "соединение с сервером установлено")
		u.events.push(engine.Connected{})
	case connDisconnected:
		u.events.push(engine.Disconnected{Cause: cause})
	}
	return true
}

// probe OPTIONS к регистратору. Любой ответ означает, что сервер
// доступен.
func (u *UA) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.RequestTimeout)
	defer cancel()

	req := sip.NewRequest(sip.OPTIONS, u.registrarURI())
	u.route(req)
	res, err := u.client.Do(ctx, req)
	if err != nil {
		return err
	}
	u.log.Debug(ctx, "ответ на OPTIONS", logger.Int("status", int(res.StatusCode)))
	return nil
}

func (u *UA) registrarURI() sip.Uri {
	return sip.Uri{Host: u.aor.Host}
}

// route направляет запрос на адрес из socket URL
func (u *UA) route(req *sip.Request) {
	req.SetTransport(u.target.sipTransport())
	req.SetDestination(u.target.Addr())
}

// Register отправляет REGISTER. Результат сообщается событием
// Registered или RegistrationFailed, ошибка возвращается и вызывающему.
func (u *UA) Register(ctx context.Context) error {
	if err := u.ready(true); err != nil {
		return err
	}

	expires := int(u.cfg.RegisterExpires / time.Second)
	res, err := u.sendRegister(ctx, expires, false)
	if err != nil {
		u.events.push(engine.RegistrationFailed{Cause: causeConnectionError})
		return fmt.Errorf("ошибка отправки REGISTER: %w", err)
	}
	code := int(res.StatusCode)
	if code < 200 || code >= 300 {
		u.events.push(engine.RegistrationFailed{
			StatusCode:   code,
			ReasonPhrase: res.Reason,
			Cause:        causeFromStatus(code),
		})
		return fmt.Errorf("REGISTER отклонен: %d %s", code, res.Reason)
	}

	granted := expiresFromResponse(res, expires)
	u.mu.Lock()
	u.registered = true
	u.scheduleRefreshLocked(granted)
	u.mu.Unlock()

	u.log.Info(ctx, "регистрация принята", logger.Int("expires", granted))
	u.events.push(engine.Registered{Expires: granted})
	return nil
}

// Unregister снимает регистрацию. Unregistered доставляется и при
// ошибке, с причиной.
func (u *UA) Unregister(ctx context.Context, opts engine.UnregisterOptions) error {
	if err := u.ready(true); err != nil {
		return err
	}
	u.mu.Lock()
	u.stopRefreshLocked()
	u.mu.Unlock()

	res, err := u.sendRegister(ctx, 0, opts.All)

	u.mu.Lock()
	u.registered = false
	u.mu.Unlock()

	if err != nil {
		u.events.push(engine.Unregistered{Cause: causeConnectionError})
		return fmt.Errorf("ошибка отправки REGISTER: %w", err)
	}
	if code := int(res.StatusCode); code < 200 || code >= 300 {
		u.events.push(engine.Unregistered{Cause: causeFromStatus(code)})
		return fmt.Errorf("снятие регистрации отклонено: %d %s", code, res.Reason)
	}
	u.events.push(engine.Unregistered{})
	return nil
}

// SetRegisterExtraHeaders заголовки для следующих REGISTER
func (u *UA) SetRegisterExtraHeaders(headers []string) {
	u.mu.Lock()
	u.regHeaders = append([]string(nil), headers...)
	u.mu.Unlock()
}

// sendRegister REGISTER с общим Call-ID и растущим CSeq. На 401/407
// повторяет запрос с digest аутентификацией.
func (u *UA) sendRegister(ctx context.Context, expires int, all bool) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.RequestTimeout)
	defer cancel()

	u.mu.Lock()
	u.regCSeq++
	cseq := u.regCSeq
	callID := u.regCallID
	extra := parseExtraHeaders(u.regHeaders)
	contact := u.contact
	u.mu.Unlock()

	req := sip.NewRequest(sip.REGISTER, u.registrarURI())
	from := &sip.FromHeader{Address: u.aor, Params: sip.NewParams()}
	from.Params = from.Params.Add("tag", u.regTag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: u.aor, Params: sip.NewParams()})
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER})
	if all {
		req.AppendHeader(sip.NewHeader("Contact", "*"))
	} else {
		req.AppendHeader(&contact)
	}
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))
	for _, h := range extra {
		req.AppendHeader(h)
	}
	u.route(req)

	res, err := u.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if code := int(res.StatusCode); code == 401 || code == 407 {
		res, err = u.client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
			Username: u.aor.User,
			Password: u.uaCfg.Password,
		})
		if err != nil {
			return nil, err
		}
		// повтор с авторизацией занимает следующий CSeq
		if h := req.CSeq(); h != nil {
			u.mu.Lock()
			if h.SeqNo > u.regCSeq {
				u.regCSeq = h.SeqNo
			}
			u.mu.Unlock()
		}
	}
	return res, nil
}

// scheduleRefreshLocked обновляет регистрацию на середине срока
func (u *UA) scheduleRefreshLocked(expires int) {
	u.stopRefreshLocked()
	d := time.Duration(expires) * time.Second / 2
	if d <= 0 {
		return
	}
	u.refresh = time.AfterFunc(d, func() {
		if u.ctx.Err() != nil {
			return
		}
		if err := u.Register(u.ctx); err != nil {
			u.log.Warn(u.ctx, "обновление регистрации не удалось", logger.Err(err))
		}
	})
}

func (u *UA) stopRefreshLocked() {
	if u.refresh != nil {
		u.refresh.Stop()
		u.refresh = nil
	}
}

// ready проверяет, что UA запущен, и при needConn что соединение есть
func (u *UA) ready(needConn bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch {
	case u.stopped:
		return ErrStopped
	case !u.started:
		return ErrNotStarted
	case needConn && u.state != connConnected:
		return ErrNotConnected
	}
	return nil
}

// IsConnected есть ли соединение с сервером
func (u *UA) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == connConnected && !u.stopped
}

// Call начинает исходящий вызов. NewSession доставляется до возврата,
// ответ ожидается в фоне.
func (u *UA) Call(ctx context.Context, target string, opts engine.CallOptions) (engine.Session, error) {
	if err := u.ready(true); err != nil {
		return nil, err
	}
	recipient, err := u.resolveTarget(target)
	if err != nil {
		return nil, err
	}

	rtpSess, err := newRTPSession(u.cfg, u.localHost, u.log)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания медиа сессии: %w", err)
	}
	s := newSession(u, directionOutgoing, rtpSess)

	offer, err := s.localDescription(dirSendRecv, supportedCodecs)
	if err != nil {
		rtpSess.Close()
		return nil, err
	}

	headers := []sip.Header{sip.NewHeader("Content-Type", "application/sdp")}
	headers = append(headers, sip.NewHeader("Allow", allowedMethods))
	if opts.SessionTimersExpires > 0 {
		headers = append(headers,
			sip.NewHeader("Session-Expires", strconv.Itoa(opts.SessionTimersExpires)),
			sip.NewHeader("Supported", "timer"))
	}
	if opts.Anonymous {
		from := &sip.FromHeader{
			DisplayName: "Anonymous",
			Address:     sip.Uri{User: "anonymous", Host: "anonymous.invalid"},
			Params:      sip.NewParams(),
		}
		from.Params = from.Params.Add("tag", sip.GenerateTagN(16))
		headers = append(headers, from,
			sip.NewHeader("Privacy", "id"),
			sip.NewHeader("P-Preferred-Identity", "<"+u.aor.String()+">"))
	}
	headers = append(headers, parseExtraHeaders(opts.ExtraHeaders)...)
	// Запрос уходит на регистратор, он же прокси
	headers = append(headers, sip.NewHeader("Route", u.outboundRoute()))

	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		rtpSess.Close()
		return nil, ErrStopped
	}
	dialogCli := u.dialogCli
	u.wg.Add(1)
	u.mu.Unlock()

	dlg, err := dialogCli.Invite(ctx, recipient, offer, headers...)
	if err != nil {
		u.wg.Done()
		rtpSess.Close()
		return nil, fmt.Errorf("ошибка отправки INVITE: %w", err)
	}
	s.attachClient(dlg)
	u.addSession(s)

	u.log.Info(ctx, "исходящий вызов",
		logger.String("to", recipient.String()),
		logger.String("call_id", s.id))

	u.events.push(engine.NewSession{
		Originator: engine.OriginatorLocal,
		Session:    s,
		Request: engine.Request{
			From:   dlg.InviteRequest.From().Address.String(),
			To:     recipient.String(),
			CallID: s.id,
		},
	})

	go func() {
		defer u.wg.Done()
		s.waitAnswer()
	}()
	return s, nil
}

// outboundRoute Route на сервер из socket URL
func (u *UA) outboundRoute() string {
	uri := sip.Uri{Host: u.target.Host, Port: u.target.Port, UriParams: sip.NewParams()}
	uri.UriParams = uri.UriParams.Add("lr", "")
	if u.target.Transport != "udp" {
		uri.UriParams = uri.UriParams.Add("transport", u.target.Transport)
	}
	return "<" + uri.String() + ">"
}

// resolveTarget "bob" -> sip:bob@<домен AOR>, "bob@host" и sip URI
// разбираются как есть
func (u *UA) resolveTarget(target string) (sip.Uri, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return sip.Uri{}, fmt.Errorf("пустой адрес вызова")
	}
	if !strings.HasPrefix(target, "sip:") && !strings.HasPrefix(target, "sips:") {
		if !strings.Contains(target, "@") {
			target += "@" + u.aor.Host
		}
		target = "sip:" + target
	}
	var uri sip.Uri
	if err := sip.ParseUri(target, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("некорректный адрес вызова %q: %w", target, err)
	}
	return uri, nil
}

// TerminateSessions завершает все сессии UA
func (u *UA) TerminateSessions(ctx context.Context, opts engine.TerminateOptions) error {
	var errs []error
	for _, s := range u.snapshotSessions() {
		if err := s.Terminate(ctx, opts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop завершает вызовы, снимает регистрацию и закрывает транспорт.
// События после Stop не доставляются.
func (u *UA) Stop() error {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return nil
	}
	wasStarted := u.started
	u.stopped = true
	u.stopRefreshLocked()
	unregister := u.registered && u.state == connConnected
	u.mu.Unlock()

	u.events.close()
	if !wasStarted {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for _, s := range u.snapshotSessions() {
		if err := s.Terminate(ctx, engine.TerminateOptions{}); err != nil {
			u.log.Debug(ctx, "ошибка завершения сессии при остановке", logger.Err(err))
		}
		s.release()
	}
	if unregister {
		if _, err := u.sendRegister(ctx, 0, false); err != nil {
			u.log.Debug(ctx, "ошибка снятия регистрации при остановке", logger.Err(err))
		}
	}

	u.cancel()
	err := u.sipUA.Close()
	u.wg.Wait()
	u.log.Info(ctx, "UA остановлен")
	if err != nil {
		return fmt.Errorf("ошибка закрытия User Agent: %w", err)
	}
	return nil
}

func (u *UA) addSession(s *session) {
	u.mu.Lock()
	u.sessions[s.id] = s
	u.mu.Unlock()
}

func (u *UA) removeSession(s *session) {
	u.mu.Lock()
	if cur, ok := u.sessions[s.id]; ok && cur == s {
		delete(u.sessions, s.id)
	}
	u.mu.Unlock()
}

func (u *UA) sessionByCallID(callID string) *session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessions[callID]
}

func (u *UA) snapshotSessions() []*session {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*session, 0, len(u.sessions))
	for _, s := range u.sessions {
		out = append(out, s)
	}
	return out
}

// respond отправляет ответ и логирует ошибку отправки
func (u *UA) respond(tx sip.ServerTransaction, req *sip.Request, code int, reason string, body []byte, headers ...sip.Header) {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	if err := tx.Respond(res); err != nil {
		u.log.Debug(u.ctx, "ошибка отправки ответа",
			logger.String("method", string(req.Method)),
			logger.Int("status", code),
			logger.Err(err))
	}
}

func callIDOf(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

// onInvite новый входящий вызов или re-INVITE существующего. Для нового
// вызова обработчик держит транзакцию до ответа, отказа или CANCEL.
func (u *UA) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	if s := u.sessionByCallID(callID); s != nil {
		s.handleOffer(req, tx)
		return
	}
	if err := u.ready(false); err != nil {
		u.respond(tx, req, 503, "Service Unavailable", nil)
		return
	}

	offer, err := parseSDP(req.Body())
	if err != nil {
		u.log.Warn(u.ctx, "входящий INVITE без подходящего SDP",
			logger.String("call_id", callID), logger.Err(err))
		u.respond(tx, req, 488, "Not Acceptable Here", nil)
		return
	}

	dlg, err := u.dialogSrv.ReadInvite(req, tx)
	if err != nil {
		u.log.LogError(u.ctx, err, "ошибка чтения INVITE", logger.String("call_id", callID))
		u.respond(tx, req, 400, "Bad Request", nil)
		return
	}

	rtpSess, err := newRTPSession(u.cfg, u.localHost, u.log)
	if err != nil {
		u.log.LogError(u.ctx, err, "ошибка создания медиа сессии", logger.String("call_id", callID))
		u.respond(tx, req, 500, "Server Internal Error", nil)
		return
	}

	s := newSession(u, directionIncoming, rtpSess)
	s.attachServer(dlg, req, tx, offer)
	u.addSession(s)

	if err := dlg.Respond(sip.StatusTrying, "Trying", nil); err != nil {
		u.log.Debug(u.ctx, "ошибка отправки 100 Trying", logger.Err(err))
	}
	if err := dlg.Respond(sip.StatusRinging, "Ringing", nil); err != nil {
		u.log.Debug(u.ctx, "ошибка отправки 180 Ringing", logger.Err(err))
	}

	u.log.Info(u.ctx, "входящий вызов",
		logger.String("from", req.From().Address.String()),
		logger.String("call_id", callID))

	u.events.push(engine.NewSession{
		Originator: engine.OriginatorRemote,
		Session:    s,
		Request: engine.Request{
			From:   req.From().Address.String(),
			To:     req.To().Address.String(),
			CallID: callID,
		},
	})

	s.waitSettled(u.ctx, tx)
}

func (u *UA) onAck(req *sip.Request, tx sip.ServerTransaction) {
	s := u.sessionByCallID(callIDOf(req))
	if s == nil || s.dir != directionIncoming {
		return
	}
	// ACK на re-INVITE диалог sipgo не знает, это не ошибка
	if err := u.dialogSrv.ReadAck(req, tx); err != nil {
		u.log.Debug(u.ctx, "ACK вне начального INVITE", logger.String("call_id", s.id), logger.Err(err))
	}
}

func (u *UA) onBye(req *sip.Request, tx sip.ServerTransaction) {
	s := u.sessionByCallID(callIDOf(req))
	if s == nil {
		u.respond(tx, req, 481, "Call/Transaction Does Not Exist", nil)
		return
	}

	var err error
	if s.dir == directionIncoming {
		err = u.dialogSrv.ReadBye(req, tx)
	} else {
		err = u.dialogCli.ReadBye(req, tx)
	}
	if err != nil {
		u.respond(tx, req, 200, "OK", nil)
	}
	s.remoteBye()
}

func (u *UA) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	s := u.sessionByCallID(callIDOf(req))
	if s == nil {
		u.respond(tx, req, 481, "Call/Transaction Does Not Exist", nil)
		return
	}
	u.respond(tx, req, 200, "OK", nil)
	s.remoteCancel()
}

func (u *UA) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	u.respond(tx, req, 200, "OK", nil,
		sip.NewHeader("Allow", allowedMethods),
		sip.NewHeader("Accept", "application/sdp"))
}

// onInfo принимает INFO внутри диалога. DTMF из application/dtmf-relay
// только логируется.
func (u *UA) onInfo(req *sip.Request, tx sip.ServerTransaction) {
	s := u.sessionByCallID(callIDOf(req))
	if s == nil {
		u.respond(tx, req, 481, "Call/Transaction Does Not Exist", nil)
		return
	}
	if digit, ok := parseDTMFRelay(req.Body()); ok {
		u.log.Debug(u.ctx, "получен DTMF через INFO",
			logger.String("call_id", s.id),
			logger.String("digit", digit))
	}
	u.respond(tx, req, 200, "OK", nil)
}

func (u *UA) onUpdate(req *sip.Request, tx sip.ServerTransaction) {
	s := u.sessionByCallID(callIDOf(req))
	if s == nil {
		u.respond(tx, req, 481, "Call/Transaction Does Not Exist", nil)
		return
	}
	s.handleOffer(req, tx)
}
