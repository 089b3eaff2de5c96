package provider

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/engine/mockengine"
	"github.com/arzzra/sip_provider/pkg/media"
)

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr), "ожидалась *Error, получено %T", err)
	assert.Equal(t, kind, perr.Kind)
}

func TestRegisterSip(t *testing.T) {
	ctx := context.Background()

	t.Run("autoRegister", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ua().Emit(engine.Connected{})
		assertKind(t, f.p.RegisterSip(ctx), KindInvalidState)
		assert.Zero(t, f.ua().Registers())
	})

	t.Run("manual", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.AutoRegister = false })
		assert.False(t, f.ua().Config().Register)

		assertKind(t, f.p.RegisterSip(ctx), KindInvalidState)

		f.ua().Emit(engine.Connected{})
		require.NoError(t, f.p.RegisterSip(ctx))
		assert.Equal(t, 1, f.ua().Registers())
	})

	t.Run("not initialized", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.Host = "" })
		assert.ErrorIs(t, f.p.RegisterSip(ctx), ErrNotInitialized)
	})
}

func TestUnregisterSip(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, func(c *Config) { c.AutoRegister = false })
	f.ua().Emit(engine.Connected{})

	err := f.p.UnregisterSip(ctx, engine.UnregisterOptions{})
	assertKind(t, err, KindInvalidState)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, string(RegistrationRegistered), perr.Expected)
	assert.Equal(t, string(RegistrationConnected), perr.Actual)

	f.ua().Emit(engine.Registered{})
	require.NoError(t, f.p.UnregisterSip(ctx, engine.UnregisterOptions{All: true}))
	assert.Equal(t, []engine.UnregisterOptions{{All: true}}, f.ua().Unregisters())

	auto := newFixture(t, nil).registered()
	assertKind(t, auto.p.UnregisterSip(ctx, engine.UnregisterOptions{}), KindInvalidState)
}

func TestStartCall_Options(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.ICERestart = true
		c.SessionTimersExpires = 300
		c.ExtraHeaders.Invite = []string{"X-Team: voice"}
		c.ICEServers = []engine.ICEServer{{URLs: []string{"turn:turn.example.com"}, Username: "u", Credential: "p"}}
	}).registered()

	require.NoError(t, f.p.StartCall(context.Background(), " bob ", true))

	calls := f.ua().Calls()
	require.Len(t, calls, 1)
	opts := calls[0].Options
	assert.Equal(t, "bob", calls[0].Target)
	assert.True(t, opts.Anonymous)
	assert.True(t, opts.MediaConstraints.Audio)
	assert.False(t, opts.MediaConstraints.Video)
	assert.True(t, opts.OfferConstraints.ICERestart)
	assert.Equal(t, 300, opts.SessionTimersExpires)
	assert.Equal(t, []string{"X-Team: voice"}, opts.ExtraHeaders)
	require.Len(t, opts.PCConfig.ICEServers, 1)
	assert.Equal(t, "u", opts.PCConfig.ICEServers[0].Username)
}

func TestStartCall_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("connected is enough", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ua().Emit(engine.Connected{})
		require.NoError(t, f.p.StartCall(ctx, "bob", false))
	})

	t.Run("not registered", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ua().Emit(engine.Connecting{})
		assertKind(t, f.p.StartCall(ctx, "bob", false), KindInvalidState)
		assert.Empty(t, f.ua().Calls())
	})

	t.Run("twice", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		require.NoError(t, f.p.StartCall(ctx, "bob", false))
		err := f.p.StartCall(ctx, "bob", false)
		assertKind(t, err, KindInvalidState)
		assert.Len(t, f.ua().Calls(), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(
			f.metrics.rejectedCommands.WithLabelValues("startCall", string(KindInvalidState))))
	})

	t.Run("empty destination", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		assertKind(t, f.p.StartCall(ctx, "  ", false), KindInvalidArgument)
		assert.Equal(t, CallIdle, f.p.Snapshot().Call)
	})

	t.Run("no agent", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.User = "" })
		assert.ErrorIs(t, f.p.StartCall(ctx, "bob", false), ErrNotInitialized)
	})
}

func TestStartCall_DialFailureReverts(t *testing.T) {
	f := newFixture(t, nil).registered()
	f.ua().CallErr = errors.New("transport closed")

	err := f.p.StartCall(context.Background(), "bob", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport closed")

	snap := f.p.Snapshot()
	assert.Equal(t, CallIdle, snap.Call)
	assert.Empty(t, snap.Counterpart)
	assert.Equal(t, DirectionNone, snap.Direction)
}

func TestStopCall(t *testing.T) {
	ctx := context.Background()

	t.Run("idle", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		assertKind(t, f.p.StopCall(ctx, engine.TerminateOptions{}), KindInvalidState)
	})

	t.Run("incoming rejected with busy", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.incoming("sip:carol@example.com")

		require.NoError(t, f.p.StopCall(ctx, engine.TerminateOptions{ExtraHeaders: []string{"X-Reason: user"}}))
		assert.Equal(t, CallStopping, f.p.Snapshot().Call)

		terms := s.Terminates()
		require.Len(t, terms, 1)
		assert.Equal(t, 486, terms[0].StatusCode)
		assert.Equal(t, []string{"X-Reason: user"}, terms[0].ExtraHeaders)
		assert.Empty(t, f.ua().TerminateAllCalls())

		f.ua().Emit(engine.SessionFailed{Session: s, Originator: engine.OriginatorLocal})
		assert.Equal(t, CallIdle, f.p.Snapshot().Call)
	})

	t.Run("outgoing terminates all", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.outgoing("bob")

		opts := engine.TerminateOptions{StatusCode: 487}
		require.NoError(t, f.p.StopCall(ctx, opts))
		assert.Equal(t, []engine.TerminateOptions{opts}, f.ua().TerminateAllCalls())
		assert.Empty(t, s.Terminates())
	})

	t.Run("before session", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		f.ua().EmitOnCall = false
		require.NoError(t, f.p.StartCall(ctx, "bob", false))
		require.Empty(t, f.p.Snapshot().SessionID)

		require.NoError(t, f.p.StopCall(ctx, engine.TerminateOptions{}))
		assert.Equal(t, CallStopping, f.p.Snapshot().Call)
		assert.Len(t, f.ua().TerminateAllCalls(), 1)

		// запоздавшая сессия завершается сразу
		s := mockengine.NewSession()
		f.ua().Emit(engine.NewSession{Originator: engine.OriginatorLocal, Session: s, Request: engine.Request{To: "bob"}})
		assert.Len(t, s.Terminates(), 1)

		f.ua().Emit(engine.SessionFailed{Session: s, Originator: engine.OriginatorLocal})
		assert.Equal(t, CallIdle, f.p.Snapshot().Call)
	})
}

func TestAnswerCall(t *testing.T) {
	ctx := context.Background()

	t.Run("idle", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		assertKind(t, f.p.AnswerCall(ctx, nil), KindInvalidState)
	})

	t.Run("outgoing", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.outgoing("bob")
		assertKind(t, f.p.AnswerCall(ctx, nil), KindInvalidState)
		assert.Empty(t, s.Answers())
	})

	t.Run("incoming", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.incoming("sip:carol@example.com")
		require.NoError(t, f.p.AnswerCall(ctx, &engine.AnswerOptions{
			ExtraHeaders:         []string{"X-Answered-By: desk"},
			SessionTimersExpires: 1800,
		}))

		answers := s.Answers()
		require.Len(t, answers, 1)
		assert.True(t, answers[0].MediaConstraints.Audio)
		assert.Equal(t, 1800, answers[0].SessionTimersExpires)
		assert.Equal(t, []string{"X-Answered-By: desk"}, answers[0].ExtraHeaders)
	})

	t.Run("already active", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		f.active()
		assertKind(t, f.p.AnswerCall(ctx, nil), KindInvalidState)
	})
}

func TestSendDTMF(t *testing.T) {
	ctx := context.Background()

	t.Run("rfc4733 defaults", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.active()

		require.NoError(t, f.p.SendDTMF(ctx, "12#", 0, 0))
		calls := s.PC().MockSenders()[1].MockDTMF().Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, mockengine.InsertCall{Tones: "12#", Duration: DefaultDTMFDuration, Gap: DefaultDTMFInterToneGap}, calls[0])
		assert.Empty(t, s.DTMFCalls())
	})

	t.Run("info", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.DTMFTransportType = engine.DTMFTransportINFO }).registered()
		s := f.active()

		require.NoError(t, f.p.SendDTMF(ctx, "5", 250*time.Millisecond, 0))
		calls := s.DTMFCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "5", calls[0].Tones)
		assert.Equal(t, engine.DTMFTransportINFO, calls[0].Options.TransportType)
		assert.Equal(t, 250*time.Millisecond, calls[0].Options.Duration)
		assert.Equal(t, DefaultDTMFInterToneGap, calls[0].Options.InterToneGap)
	})

	t.Run("unsupported transport", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.DTMFTransportType = "carrier-pigeon" }).registered()
		s := f.active()

		assert.NoError(t, f.p.SendDTMF(ctx, "1", 0, 0))
		assert.Empty(t, s.DTMFCalls())
		assert.Empty(t, s.PC().MockSenders()[1].MockDTMF().Calls())
	})

	t.Run("not active", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.incoming("sip:carol@example.com")

		assert.NoError(t, f.p.SendDTMF(ctx, "1", 0, 0))
		assert.Empty(t, s.PC().MockSenders()[1].MockDTMF().Calls())
	})

	t.Run("invalid tones", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		f.active()
		assertKind(t, f.p.SendDTMF(ctx, "12x", 0, 0), KindInvalidArgument)
		assertKind(t, f.p.SendDTMF(ctx, "", 0, 0), KindInvalidArgument)
	})
}

func TestHold(t *testing.T) {
	ctx := context.Background()

	t.Run("hold and unhold", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.ExtraHeaders.Hold = []string{"X-Hold: 1"} }).registered()
		s := f.active()

		require.NoError(t, f.p.Hold(ctx, true))
		holds := s.Holds()
		require.Len(t, holds, 1)
		assert.True(t, holds[0].UseUpdate)
		assert.Equal(t, []string{"X-Hold: 1"}, holds[0].ExtraHeaders)
		assert.True(t, f.p.Snapshot().OnHold)

		// повторный hold не отправляется
		require.NoError(t, f.p.Hold(ctx, false))
		assert.Len(t, s.Holds(), 1)

		require.NoError(t, f.p.Unhold(ctx, false))
		assert.Len(t, s.Unholds(), 1)
		assert.False(t, f.p.Snapshot().OnHold)
	})

	t.Run("engine error keeps flag", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.active()
		s.HoldErr = errors.New("491 Request Pending")

		require.Error(t, f.p.Hold(ctx, false))
		assert.False(t, f.p.Snapshot().OnHold)
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		assert.NoError(t, f.p.Hold(ctx, false))
		assert.NoError(t, f.p.Unhold(ctx, false))
		assert.NoError(t, f.p.ToggleHold(ctx, false))
	})

	t.Run("unhold restores media", func(t *testing.T) {
		f := newFixture(t, nil).registered()
		s := f.active()
		require.NoError(t, f.p.MuteMicrophone(ctx))
		f.sink.SetMuted(true)
		f.sink.SetVolume(0.2)

		// удержания нет, но микрофон и звук все равно восстанавливаются
		require.NoError(t, f.p.Unhold(ctx, false))
		assert.Empty(t, s.Unholds())
		assert.False(t, f.p.Snapshot().MicrophoneMuted)
		assert.False(t, s.IsMuted().Audio)
		assert.False(t, f.sink.Muted())
		assert.Equal(t, 1.0, f.sink.Volume())
	})
}

func TestToggleHold_FollowsSessionState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil).registered()
	s := f.active()

	require.NoError(t, f.p.ToggleHold(ctx, false))
	assert.True(t, s.IsOnHold().Local)
	require.NoError(t, f.p.ToggleHold(ctx, false))
	assert.False(t, s.IsOnHold().Local)
	assert.Len(t, s.Holds(), 1)
	assert.Len(t, s.Unholds(), 1)

	// движок снял удержание сам: toggle снова удерживает
	require.NoError(t, f.p.ToggleHold(ctx, false))
	s.SetHoldStatus(engine.HoldStatus{})
	require.NoError(t, f.p.ToggleHold(ctx, false))
	assert.Len(t, s.Holds(), 3)
	assert.Len(t, s.Unholds(), 1)
	assert.True(t, s.IsOnHold().Local)
}

func TestMuteMicrophone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil).registered()
	s := f.active()

	require.NoError(t, f.p.MuteMicrophone(ctx))
	assert.True(t, f.p.Snapshot().MicrophoneMuted)
	assert.True(t, s.IsMuted().Audio)

	require.NoError(t, f.p.ToggleMuteMicrophone(ctx))
	assert.False(t, f.p.Snapshot().MicrophoneMuted)
	assert.False(t, s.IsMuted().Audio)

	// флаг провайдера главный: внешнее изменение не учитывается
	s.SetMuted(engine.MediaFlags{Audio: true})
	require.NoError(t, f.p.UnmuteMicrophone(ctx))
	assert.True(t, s.IsMuted().Audio)

	s.MuteErr = errors.New("no track")
	require.Error(t, f.p.MuteMicrophone(ctx))
	assert.False(t, f.p.Snapshot().MicrophoneMuted)
}

func TestRenegotiate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil).registered()
	assert.NoError(t, f.p.Renegotiate(ctx, engine.RenegotiateOptions{}))

	s := f.active()
	opts := engine.RenegotiateOptions{UseUpdate: true, OfferConstraints: engine.OfferConstraints{ICERestart: true}}
	require.NoError(t, f.p.Renegotiate(ctx, opts))
	assert.Equal(t, []engine.RenegotiateOptions{opts}, s.Renegotiations())
}

func TestSetAudioOutputDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	uas := len(f.factory.UAs())
	assert.Equal(t, media.DefaultDeviceID, f.p.AudioOutputDeviceID())
	bindings := f.sink.Bindings()

	require.NoError(t, f.p.SetAudioOutputDevice(ctx, "speaker-2"))
	assert.Equal(t, "speaker-2", f.p.AudioOutputDeviceID())
	assert.Equal(t, "speaker-2", f.sink.SinkID())
	assert.Equal(t, "speaker-2", f.p.Config().OutboundAudioDeviceID)
	assert.Equal(t, bindings+1, f.sink.Bindings())

	// тот же id не привязывается повторно
	require.NoError(t, f.p.SetAudioOutputDevice(ctx, "speaker-2"))
	assert.Equal(t, bindings+1, f.sink.Bindings())

	require.NoError(t, f.p.SetAudioOutputDevice(ctx, "unplugged"))
	assert.Equal(t, media.DefaultDeviceID, f.p.AudioOutputDeviceID())
	assert.Len(t, f.factory.UAs(), uas, "агент не пересоздается")

	require.NoError(t, f.p.Close())
	assert.ErrorIs(t, f.p.SetAudioOutputDevice(ctx, "speaker-1"), ErrClosed)
}

// TestRandomEventSequences проверяет инварианты на случайных
// последовательностях событий и команд
func TestRandomEventSequences(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		f := newFixture(t, nil)
		ua := f.ua()
		var sessions []*mockengine.Session
		pick := func() *mockengine.Session {
			if len(sessions) == 0 {
				return mockengine.NewSession()
			}
			return sessions[rng.Intn(len(sessions))]
		}

		for step := 0; step < 200; step++ {
			switch rng.Intn(14) {
			case 0:
				ua.Emit(engine.Connecting{})
			case 1:
				ua.Emit(engine.Connected{})
			case 2:
				ua.Emit(engine.Registered{})
			case 3:
				ua.Emit(engine.Unregistered{})
			case 4:
				ua.Emit(engine.Disconnected{})
			case 5:
				sessions = append(sessions, ua.Incoming("sip:peer@example.com"))
			case 6:
				ua.Emit(engine.SessionAccepted{Session: pick()})
			case 7:
				ua.Emit(engine.SessionEnded{Session: pick()})
			case 8:
				ua.Emit(engine.SessionFailed{Session: pick()})
			case 9:
				_ = f.p.StartCall(ctx, "bob", false)
			case 10:
				_ = f.p.StopCall(ctx, engine.TerminateOptions{})
			case 11:
				_ = f.p.ToggleHold(ctx, false)
			case 12:
				_ = f.p.ToggleMuteMicrophone(ctx)
			case 13:
				_ = f.p.SendDTMF(ctx, "1", 0, 0)
			}

			snap := f.p.Snapshot()
			if snap.Call == CallIdle {
				assert.Empty(t, snap.SessionID, "idle без сессии")
				assert.Empty(t, snap.Counterpart)
				assert.Equal(t, DirectionNone, snap.Direction)
				assert.False(t, snap.DTMFBound)
				assert.False(t, snap.MicrophoneMuted)
			}
			if snap.Call == CallActive {
				assert.NotEmpty(t, snap.SessionID, "active только с сессией")
			}
			if snap.Registration != RegistrationError {
				assert.Empty(t, snap.ErrorKind)
			} else {
				assert.NotEmpty(t, snap.ErrorKind)
			}
		}
		require.NoError(t, f.p.Close())
	}
}
