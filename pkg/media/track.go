package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrackKind тип медиа трека
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Параметры аудио кадра PCMU
const (
	SampleRate    = 8000
	FrameDuration = 20 * time.Millisecond
	FrameSize     = SampleRate * int(FrameDuration/time.Millisecond) / 1000
	// PCMUSilence значение тишины в μ-law
	PCMUSilence = 0xFF
)

// Track медиа трек. Stop освобождает захваченное устройство.
type Track interface {
	ID() string
	Kind() TrackKind
	DeviceID() string
	Stop()
	Stopped() bool
}

// FrameReader трек, из которого можно читать аудио кадры
type FrameReader interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// FrameSource генерирует очередной кадр захвата
type FrameSource func() []byte

// LocalTrack трек, захваченный с локального устройства
type LocalTrack struct {
	id       string
	kind     TrackKind
	deviceID string
	source   FrameSource
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// NewLocalTrack создает трек с источником кадров. interval задает темп
// выдачи кадров, 0 означает выдачу без задержки.
func NewLocalTrack(kind TrackKind, deviceID string, source FrameSource, interval time.Duration) *LocalTrack {
	return &LocalTrack{
		id:       uuid.NewString(),
		kind:     kind,
		deviceID: deviceID,
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (t *LocalTrack) ID() string       { return t.id }
func (t *LocalTrack) Kind() TrackKind  { return t.kind }
func (t *LocalTrack) DeviceID() string { return t.deviceID }

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *LocalTrack) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done закрывается после Stop
func (t *LocalTrack) Done() <-chan struct{} { return t.done }

func (t *LocalTrack) ReadFrame(ctx context.Context) ([]byte, error) {
	if t.interval > 0 {
		timer := time.NewTimer(t.interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.done:
			return nil, ErrTrackStopped
		case <-timer.C:
		}
	}
	if t.Stopped() {
		return nil, ErrTrackStopped
	}
	return t.source(), nil
}

// RemoteTrack трек удаленной стороны. Движок кладет кадры через Push,
// при переполнении буфера кадры отбрасываются.
type RemoteTrack struct {
	id       string
	kind     TrackKind
	frames   chan []byte
	stopOnce sync.Once
	done     chan struct{}
}

// NewRemoteTrack создает удаленный трек с буфером на bufferFrames кадров
func NewRemoteTrack(kind TrackKind, bufferFrames int) *RemoteTrack {
	if bufferFrames <= 0 {
		bufferFrames = 50
	}
	return &RemoteTrack{
		id:     uuid.NewString(),
		kind:   kind,
		frames: make(chan []byte, bufferFrames),
		done:   make(chan struct{}),
	}
}

func (t *RemoteTrack) ID() string       { return t.id }
func (t *RemoteTrack) Kind() TrackKind  { return t.kind }
func (t *RemoteTrack) DeviceID() string { return "" }

func (t *RemoteTrack) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *RemoteTrack) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Push добавляет кадр. Возвращает false, если кадр отброшен.
func (t *RemoteTrack) Push(frame []byte) bool {
	if t.Stopped() {
		return false
	}
	select {
	case t.frames <- frame:
		return true
	default:
		return false
	}
}

func (t *RemoteTrack) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTrackStopped
	case f := <-t.frames:
		return f, nil
	}
}

// Stream набор треков
type Stream struct {
	id     string
	mu     sync.RWMutex
	tracks []Track
}

// NewStream создает поток из треков
func NewStream(tracks ...Track) *Stream {
	return &Stream{id: uuid.NewString(), tracks: append([]Track(nil), tracks...)}
}

func (s *Stream) ID() string { return s.id }

// AddTrack добавляет трек в поток
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks возвращает копию списка треков
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// AudioTracks возвращает только аудио треки
func (s *Stream) AudioTracks() []Track {
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == TrackKindAudio {
			out = append(out, t)
		}
	}
	return out
}

// Stop останавливает все треки потока
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Constraints ограничения захвата
type Constraints struct {
	Audio    bool
	Video    bool
	DeviceID string
	// Exact требует именно это устройство, без подмены на другое
	Exact bool
}

// Capturer захватывает поток с устройства
type Capturer interface {
	Capture(ctx context.Context, c Constraints) (*Stream, error)
}

// SilenceCapturer выдает кадры тишины PCMU в реальном темпе. Проверяет
// устройство через каталог, если он задан.
type SilenceCapturer struct {
	Directory DeviceDirectory
	Interval  time.Duration
}

func (c *SilenceCapturer) Capture(ctx context.Context, cons Constraints) (*Stream, error) {
	if !cons.Audio {
		return nil, errors.New("захват без аудио не поддерживается")
	}
	deviceID := cons.DeviceID
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	if c.Directory != nil {
		ok, err := c.Directory.DeviceExists(ctx, deviceID, DeviceKindAudioInput)
		if err != nil {
			return nil, err
		}
		if !ok {
			if cons.Exact {
				return nil, &DeviceNotFoundError{ID: deviceID, Kind: DeviceKindAudioInput}
			}
			deviceID = DefaultDeviceID
		}
	}
	interval := c.Interval
	if interval == 0 {
		interval = FrameDuration
	}
	frame := SilenceFrame()
	track := NewLocalTrack(TrackKindAudio, deviceID, func() []byte {
		return append([]byte(nil), frame...)
	}, interval)
	return NewStream(track), nil
}

// SilenceFrame возвращает 20 мс тишины PCMU
func SilenceFrame() []byte {
	f := make([]byte, FrameSize)
	for i := range f {
		f[i] = PCMUSilence
	}
	return f
}

