package provider

import (
	"context"
	"time"

	"github.com/arzzra/sip_provider/pkg/engine"
)

// Gateway команды линии. Нарушение предусловий возвращается сразу как
// *Error с Kind NotInitialized, InvalidState, InvalidArgument или
// NoActiveSession. Команды hold, mute, DTMF и renegotiate без активной
// сессии ничего не делают и возвращают nil.
type Gateway interface {
	RegisterSip(ctx context.Context) error
	UnregisterSip(ctx context.Context, opts engine.UnregisterOptions) error

	// AnswerCall принимает входящий вызов. nil opts означает значения по
	// умолчанию: только аудио, ICE серверы из конфигурации.
	AnswerCall(ctx context.Context, opts *engine.AnswerOptions) error
	StartCall(ctx context.Context, destination string, anonymous bool) error
	StopCall(ctx context.Context, opts engine.TerminateOptions) error

	// SendDTMF нулевые duration и interToneGap заменяются на 100 и 70 мс.
	SendDTMF(ctx context.Context, tones string, duration, interToneGap time.Duration) error

	Hold(ctx context.Context, useUpdate bool) error
	Unhold(ctx context.Context, useUpdate bool) error
	ToggleHold(ctx context.Context, useUpdate bool) error

	MuteMicrophone(ctx context.Context) error
	UnmuteMicrophone(ctx context.Context) error
	ToggleMuteMicrophone(ctx context.Context) error

	Renegotiate(ctx context.Context, opts engine.RenegotiateOptions) error

	SetAudioOutputDevice(ctx context.Context, id string) error
	AudioOutputDeviceID() string

	Snapshot() Snapshot
}
