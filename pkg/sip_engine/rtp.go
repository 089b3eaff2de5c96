package sip_engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/media"
)

// maxRTPPacketSize ограничение MTU
const maxRTPPacketSize = 1500

// rtpSession один UDP сокет RTP на сессию. Отправляет кадры локального
// трека каждые 20 мс, принятые кадры кладет в удаленный трек.
type rtpSession struct {
	conn   *net.UDPConn
	log    logger.StructuredLogger
	ssrc   uint32
	dtmfPT uint8

	remoteTrack *media.RemoteTrack
	jitter      *media.JitterBuffer
	sender      *rtpSender

	mu          sync.Mutex
	remote      *net.UDPAddr
	payloadType uint8
	seq         uint16
	ts          uint32
	muted       bool
	sending     bool
	started     bool
	lastDTMF    uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// listenRTP открывает сокет на host в диапазоне портов [min, max].
// Нулевой диапазон означает любой свободный порт.
func listenRTP(host string, portMin, portMax int) (*net.UDPConn, error) {
	ip := net.ParseIP(host)
	if portMin == 0 && portMax == 0 {
		return net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	}
	var lastErr error
	// RTP использует четные порты
	start := portMin + portMin%2
	for port := start; port <= portMax; port += 2 {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("нет свободного RTP порта в диапазоне %d-%d: %w", portMin, portMax, lastErr)
}

func newRTPSession(cfg Config, host string, log logger.StructuredLogger) (*rtpSession, error) {
	conn, err := listenRTP(host, cfg.RTPPortMin, cfg.RTPPortMax)
	if err != nil {
		return nil, err
	}
	if err := setSockOptForVoice(conn, cfg.DSCP); err != nil {
		log.Debug(context.Background(), "опции сокета RTP не применены", logger.Err(err))
	}

	s := &rtpSession{
		conn:        conn,
		log:         log,
		ssrc:        randomUint32(),
		dtmfPT:      cfg.DTMFPayloadType,
		remoteTrack: media.NewRemoteTrack(media.TrackKindAudio, 50),
		jitter:      media.NewJitterBuffer(media.DefaultJitterBufferConfig()),
		payloadType: payloadPCMU,
		seq:         uint16(randomUint32()),
		ts:          randomUint32(),
		sending:     true,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	local := media.NewLocalTrack(media.TrackKindAudio, media.DefaultDeviceID, media.SilenceFrame, 0)
	s.sender = &rtpSender{session: s, track: local}
	s.sender.dtmf = &rtpDTMFSender{session: s}
	return s, nil
}

// setSockOptForVoice DSCP и приоритет для голосового трафика
func setSockOptForVoice(conn *net.UDPConn, dscp int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if dscp > 0 {
			sockErr = setSockOptDSCP(int(fd), dscp)
		}
		if sockErr == nil {
			sockErr = setSockOptPriority(int(fd))
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}

// LocalAddr адрес сокета
func (s *rtpSession) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetRemote задает адрес и кодек удаленной стороны
func (s *rtpSession) SetRemote(addr *net.UDPAddr, payloadType uint8) {
	s.mu.Lock()
	s.remote = addr
	s.payloadType = payloadType
	s.mu.Unlock()
}

func (s *rtpSession) Remote() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// SetMuted при mute вместо кадров трека отправляется тишина
func (s *rtpSession) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *rtpSession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetSending выключает отправку на время удержания
func (s *rtpSession) SetSending(sending bool) {
	s.mu.Lock()
	s.sending = sending
	s.mu.Unlock()
}

// Start запускает отправку и прием. Повторный вызов ничего не делает.
func (s *rtpSession) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.sendLoop()
	go s.receiveLoop()
}

// Close останавливает сессию и освобождает сокет
func (s *rtpSession) Close() {
	s.cancel()
	_ = s.conn.Close()
	s.wg.Wait()
	s.remoteTrack.Stop()

	st := s.jitter.Statistics()
	s.log.Debug(context.Background(), "RTP сессия закрыта",
		logger.Uint64("received", st.Received),
		logger.Uint64("lost", st.Lost),
		logger.Uint64("late", st.Late))
}

func (s *rtpSession) sendLoop() {
	defer s.wg.Done()
	next := time.Now()
	for {
		frame, err := s.nextFrame()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			frame = media.SilenceFrame()
		}

		next = next.Add(media.FrameDuration)
		if d := time.Until(next); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			next = time.Now()
		}

		if err := s.writeFrame(frame); err != nil && s.ctx.Err() == nil {
			s.log.Debug(s.ctx, "ошибка отправки RTP", logger.Err(err))
		}
	}
}

// nextFrame читает кадр текущего трека отправителя. Остановленный трек
// или трек без кадров дает тишину.
func (s *rtpSession) nextFrame() ([]byte, error) {
	track := s.sender.Track()
	r, ok := track.(media.FrameReader)
	if !ok || track.Stopped() {
		return nil, media.ErrTrackStopped
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*media.FrameDuration)
	defer cancel()
	return r.ReadFrame(ctx)
}

func (s *rtpSession) writeFrame(frame []byte) error {
	s.mu.Lock()
	remote, pt, sending, muted := s.remote, s.payloadType, s.sending, s.muted
	s.ts += uint32(media.FrameSize)
	if remote == nil || !sending {
		s.mu.Unlock()
		return nil
	}
	if muted {
		frame = media.SilenceFrame()
	}
	// треки работают в μ-law
	if pt == payloadPCMA {
		frame = g711.Ulaw2Alaw(frame)
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: frame,
	}
	s.seq++
	s.mu.Unlock()
	return s.writePacket(remote, pkt)
}

func (s *rtpSession) writePacket(remote *net.UDPAddr, pkt *rtp.Packet) error {
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, remote)
	return err
}

// sendDTMF отправляет пакеты telephone-event в общей последовательности
// номеров сессии
func (s *rtpSession) sendDTMF(ctx context.Context, digit media.DTMFDigit, duration time.Duration) error {
	s.mu.Lock()
	remote := s.remote
	if remote == nil {
		s.mu.Unlock()
		return errors.New("rtp: удаленный адрес не известен")
	}
	gen := media.NewRFC4733Generator(s.dtmfPT, s.ssrc, s.seq)
	packets, err := gen.GeneratePackets(media.DTMFEvent{Digit: digit, Duration: duration, Volume: -10, Timestamp: s.ts})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq += uint16(len(packets))
	s.mu.Unlock()

	for i, pkt := range packets {
		if err := s.writePacket(remote, pkt); err != nil {
			return err
		}
		// начальные пакеты растягиваются на длительность тона
		if i < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(duration / 3):
			}
		}
	}
	return nil
}

func (s *rtpSession) receiveLoop() {
	defer s.wg.Done()
	buf := make([]byte, maxRTPPacketSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug(s.ctx, "ошибка чтения RTP", logger.Err(err))
			continue
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil || pkt.Version != 2 {
			continue
		}
		s.handlePacket(&pkt, addr)
	}
}

func (s *rtpSession) handlePacket(pkt *rtp.Packet, from *net.UDPAddr) {
	s.mu.Lock()
	if s.remote == nil {
		// симметричный RTP
		s.remote = from
	}
	pt := s.payloadType
	s.mu.Unlock()

	switch pkt.PayloadType {
	case s.dtmfPT:
		p, err := media.DecodeDTMFPayload(pkt.Payload)
		if err != nil || !p.EndFlag {
			return
		}
		s.mu.Lock()
		dup := s.lastDTMF == pkt.Timestamp
		s.lastDTMF = pkt.Timestamp
		s.mu.Unlock()
		if !dup {
			s.log.Debug(s.ctx, "принят DTMF", logger.Int("event", int(p.Event)))
		}
	case pt:
		now := time.Now()
		s.jitter.Put(pkt.Clone(), now)
		for _, p := range s.jitter.Pop(now) {
			frame := p.Payload
			if pt == payloadPCMA {
				frame = g711.Alaw2Ulaw(frame)
			}
			s.remoteTrack.Push(frame)
		}
	}
}

// Senders реализует engine.PeerConnection
func (s *rtpSession) Senders() []engine.Sender {
	return []engine.Sender{s.sender}
}

// rtpSender единственный аудио отправитель сессии
type rtpSender struct {
	session *rtpSession
	dtmf    *rtpDTMFSender

	mu    sync.Mutex
	track media.Track
}

func (s *rtpSender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// ReplaceTrack заменяет источник кадров без пересогласования
func (s *rtpSender) ReplaceTrack(ctx context.Context, track media.Track) error {
	if track == nil {
		return errors.New("rtp: пустой трек")
	}
	if track.Kind() != media.TrackKindAudio {
		return fmt.Errorf("rtp: трек %s не аудио", track.ID())
	}
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

func (s *rtpSender) DTMF() engine.DTMFSender { return s.dtmf }

// rtpDTMFSender отправка DTMF по RFC 4733
type rtpDTMFSender struct {
	session *rtpSession
	mu      sync.Mutex
}

// InsertDTMF отправляет тоны по очереди в фоне. Запятая дает паузу 2 с.
func (d *rtpDTMFSender) InsertDTMF(tones string, duration, gap time.Duration) error {
	if err := media.ValidateTones(tones); err != nil {
		return err
	}
	duration, gap = media.NormalizeToneTiming(duration, gap)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		ctx := d.session.ctx
		for _, r := range tones {
			if r == media.DTMFPause {
				if !sleepCtx(ctx, media.DTMFPauseDuration) {
					return
				}
				continue
			}
			digit, err := media.ParseDTMFDigit(r)
			if err != nil {
				return
			}
			if err := d.session.sendDTMF(ctx, digit, duration); err != nil {
				d.session.log.Warn(ctx, "не удалось отправить DTMF", logger.Err(err))
				return
			}
			if !sleepCtx(ctx, gap) {
				return
			}
		}
	}()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
