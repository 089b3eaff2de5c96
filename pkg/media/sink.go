package media

import (
	"context"
	"sync"
)

// AudioSink воспроизводит удаленный поток на устройстве вывода.
// Один экземпляр принадлежит одному провайдеру.
type AudioSink interface {
	SetSinkID(ctx context.Context, id string) error
	SinkID() string
	SetStream(s *Stream)
	Play(ctx context.Context) error
	Stop()
	SetMuted(muted bool)
	SetVolume(volume float64)
}

// TonePlayer проигрывает служебные сигналы (ringing и т.п.)
type TonePlayer interface {
	Play(name string)
	Stop(name string)
}

// ToneRinging сигнал входящего вызова
const ToneRinging = "ringing"

// MemorySink AudioSink без реального устройства: читает кадры удаленного
// трека и считает их. Используется CLI и тестами.
type MemorySink struct {
	directory DeviceDirectory

	mu       sync.Mutex
	sinkID   string
	stream   *Stream
	muted    bool
	volume   float64
	playing  bool
	cancel   context.CancelFunc
	frames   uint64
	level    float64
	bindings int
}

// NewMemorySink создает sink. Если directory задан, SetSinkID проверяет
// наличие устройства вывода.
func NewMemorySink(directory DeviceDirectory) *MemorySink {
	return &MemorySink{directory: directory, volume: 1, level: SilenceLevel}
}

func (s *MemorySink) SetSinkID(ctx context.Context, id string) error {
	if s.directory != nil {
		ok, err := s.directory.DeviceExists(ctx, id, DeviceKindAudioOutput)
		if err != nil {
			return err
		}
		if !ok {
			return &DeviceNotFoundError{ID: id, Kind: DeviceKindAudioOutput}
		}
	}
	s.mu.Lock()
	s.sinkID = id
	s.bindings++
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) SinkID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkID
}

// Bindings число успешных вызовов SetSinkID
func (s *MemorySink) Bindings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings
}

func (s *MemorySink) SetStream(stream *Stream) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.playing = false
	}
	s.stream = stream
	s.mu.Unlock()
}

// Stream текущий подключенный поток
func (s *MemorySink) Stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *MemorySink) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ErrNoStream
	}
	if s.playing {
		return nil
	}
	playCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.playing = true
	for _, t := range s.stream.AudioTracks() {
		if r, ok := t.(FrameReader); ok {
			go s.drain(playCtx, r)
		}
	}
	return nil
}

func (s *MemorySink) drain(ctx context.Context, r FrameReader) {
	for {
		frame, err := r.ReadFrame(ctx)
		if err != nil {
			return
		}
		level := FrameLevel(frame)
		s.mu.Lock()
		s.frames++
		s.level = level
		s.mu.Unlock()
	}
}

func (s *MemorySink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.playing = false
}

// Playing идет ли воспроизведение
func (s *MemorySink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Frames число воспроизведенных кадров
func (s *MemorySink) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Level уровень последнего воспроизведенного кадра, dBFS
func (s *MemorySink) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *MemorySink) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *MemorySink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *MemorySink) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
}

func (s *MemorySink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// TrackingTonePlayer запоминает какие сигналы сейчас играют
type TrackingTonePlayer struct {
	mu      sync.Mutex
	playing map[string]bool
	starts  map[string]int
}

func NewTrackingTonePlayer() *TrackingTonePlayer {
	return &TrackingTonePlayer{playing: make(map[string]bool), starts: make(map[string]int)}
}

func (p *TrackingTonePlayer) Play(name string) {
	p.mu.Lock()
	p.playing[name] = true
	p.starts[name]++
	p.mu.Unlock()
}

func (p *TrackingTonePlayer) Stop(name string) {
	p.mu.Lock()
	p.playing[name] = false
	p.mu.Unlock()
}

func (p *TrackingTonePlayer) Playing(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing[name]
}

// Starts сколько раз сигнал запускался
func (p *TrackingTonePlayer) Starts(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts[name]
}
