package provider

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/engine/mockengine"
	"github.com/arzzra/sip_provider/pkg/media"
)

type fixture struct {
	t        *testing.T
	p        *Provider
	factory  *mockengine.Factory
	dir      *media.StaticDirectory
	sink     *media.MemorySink
	tones    *media.TrackingTonePlayer
	registry *prometheus.Registry
	metrics  *Metrics

	mu    sync.Mutex
	snaps []Snapshot
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Host = "sip.example.com"
	cfg.Port = 5061
	cfg.User = "alice"
	cfg.Password = "secret"
	return cfg
}

// newFixture создает провайдер на mock движке и применяет конфигурацию
func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		factory: mockengine.NewFactory(),
		dir: media.NewStaticDirectory(
			media.DeviceInfo{ID: "speaker-1", Kind: media.DeviceKindAudioOutput},
			media.DeviceInfo{ID: "speaker-2", Kind: media.DeviceKindAudioOutput},
			media.DeviceInfo{ID: "mic-1", Kind: media.DeviceKindAudioInput},
		),
		tones:    media.NewTrackingTonePlayer(),
		registry: prometheus.NewRegistry(),
	}
	f.sink = media.NewMemorySink(f.dir)
	f.metrics = NewMetrics(f.registry, DefaultMetricsConfig())

	p, err := New(Options{
		Factory:   f.factory,
		Directory: f.dir,
		Sink:      f.sink,
		Capturer:  &media.SilenceCapturer{Directory: f.dir},
		Tones:     f.tones,
		Metrics:   f.metrics,
		OnStateChange: func(s Snapshot) {
			f.mu.Lock()
			f.snaps = append(f.snaps, s)
			f.mu.Unlock()
		},
	})
	require.NoError(t, err)
	f.p = p
	t.Cleanup(func() { _ = p.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, p.Configure(context.Background(), cfg))
	return f
}

func (f *fixture) ua() *mockengine.UA {
	ua := f.factory.Last()
	require.NotNil(f.t, ua, "агент не создан")
	return ua
}

// registered доводит линию до состояния registered
func (f *fixture) registered() *fixture {
	f.ua().EmitRegistration()
	require.Equal(f.t, RegistrationRegistered, f.p.Snapshot().Registration)
	return f
}

// incoming доставляет входящую сессию
func (f *fixture) incoming(from string) *mockengine.Session {
	return f.ua().Incoming(from)
}

// outgoing начинает исходящий вызов и возвращает созданную сессию
func (f *fixture) outgoing(dest string) *mockengine.Session {
	f.t.Helper()
	require.NoError(f.t, f.p.StartCall(context.Background(), dest, false))
	snap := f.p.Snapshot()
	require.NotEmpty(f.t, snap.SessionID)
	return f.sessionByID(snap.SessionID)
}

// active доводит входящий вызов до active
func (f *fixture) active() *mockengine.Session {
	f.t.Helper()
	s := f.incoming("sip:carol@example.com;tag=1")
	f.ua().Emit(engine.SessionAccepted{Session: s})
	require.Equal(f.t, CallActive, f.p.Snapshot().Call)
	return s
}

func (f *fixture) sessionByID(id string) *mockengine.Session {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()
	s, ok := f.p.call.session.(*mockengine.Session)
	require.True(f.t, ok)
	require.Equal(f.t, id, s.ID())
	return s
}

func (f *fixture) snapshots() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Snapshot(nil), f.snaps...)
}
