package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/engine/mockengine"
	"github.com/arzzra/sip_provider/pkg/media"
	"github.com/arzzra/sip_provider/pkg/provider"
)

// errQuit команда выхода из цикла
var errQuit = errors.New("выход")

// line операции провайдера, доступные из командной строки
type line interface {
	provider.Gateway
	History() []provider.Transition
	Reinitialize(ctx context.Context) error
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// shell разбирает строки команд и вызывает шлюз
type shell struct {
	line line
	sink *media.MemorySink
	sim  *simulator
	out  io.Writer

	commands map[string]command
}

func newShell(l line, sink *media.MemorySink, sim *simulator, out io.Writer) *shell {
	sh := &shell{line: l, sink: sink, sim: sim, out: out}
	sh.commands = map[string]command{
		"help":        {"help", "список команд", sh.help},
		"status":      {"status", "состояние линии", sh.status},
		"history":     {"history", "последние переходы состояний", sh.history},
		"register":    {"register", "регистрация при auto_register=false", sh.register},
		"unregister":  {"unregister [all]", "отмена регистрации", sh.unregister},
		"call":        {"call <адрес> [anon]", "исходящий вызов", sh.call},
		"answer":      {"answer", "ответ на входящий вызов", sh.answer},
		"hangup":      {"hangup [код [причина]]", "завершение вызова", sh.hangup},
		"hold":        {"hold [update]", "удержание", sh.hold},
		"unhold":      {"unhold [update]", "снятие удержания", sh.unhold},
		"togglehold":  {"togglehold [update]", "переключение удержания", sh.toggleHold},
		"mute":        {"mute", "выключение микрофона", sh.mute},
		"unmute":      {"unmute", "включение микрофона", sh.unmute},
		"togglemute":  {"togglemute", "переключение микрофона", sh.toggleMute},
		"dtmf":        {"dtmf <тоны> [длительность_мс [пауза_мс]]", "отправка DTMF", sh.dtmf},
		"renegotiate": {"renegotiate [update]", "повторное согласование медиа", sh.renegotiate},
		"output":      {"output [id]", "устройство вывода", sh.output},
		"reinit":      {"reinit", "пересоздание агента", sh.reinit},
		"quit":        {"quit", "выход", func(context.Context, []string) error { return errQuit }},
	}
	if sim != nil {
		sh.commands["sim"] = command{
			"sim register|incoming <от>|accept|hangup|fail [причина]|disconnect",
			"события mock движка", sh.simulate,
		}
	}
	return sh
}

// exec выполняет одну строку. Пустая строка ничего не делает.
func (sh *shell) exec(ctx context.Context, input string) error {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := sh.commands[name]
	if !ok {
		return fmt.Errorf("неизвестная команда %q, см. help", fields[0])
	}
	return cmd.run(ctx, fields[1:])
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format+"\n", args...)
}

func (sh *shell) help(context.Context, []string) error {
	names := make([]string, 0, len(sh.commands))
	for name := range sh.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := sh.commands[name]
		sh.printf("  %-44s %s", c.usage, c.help)
	}
	return nil
}

func (sh *shell) status(context.Context, []string) error {
	sh.printf("%s", formatSnapshot(sh.line.Snapshot()))
	if sh.sink != nil && sh.sink.Playing() {
		sh.printf("  аудио: кадров %d, уровень %.1f dBFS", sh.sink.Frames(), sh.sink.Level())
	}
	return nil
}

func formatSnapshot(s provider.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "регистрация: %s", s.Registration)
	if s.ErrorKind != "" {
		fmt.Fprintf(&b, " (%s: %s)", s.ErrorKind, s.ErrorMessage)
	}
	fmt.Fprintf(&b, "\nвызов: %s", s.Call)
	if s.Call != provider.CallIdle {
		fmt.Fprintf(&b, " %s %s", s.Direction, s.Counterpart)
		if s.OnHold {
			b.WriteString(" [hold]")
		}
		if s.MicrophoneMuted {
			b.WriteString(" [mute]")
		}
	}
	if s.AudioOutputDeviceID != "" {
		fmt.Fprintf(&b, "\nвывод: %s", s.AudioOutputDeviceID)
	}
	return b.String()
}

func (sh *shell) history(context.Context, []string) error {
	for _, t := range sh.line.History() {
		sh.printf("%s %s", t.At.Format("15:04:05.000"), t)
	}
	return nil
}

func (sh *shell) register(ctx context.Context, _ []string) error {
	return sh.line.RegisterSip(ctx)
}

func (sh *shell) unregister(ctx context.Context, args []string) error {
	return sh.line.UnregisterSip(ctx, engine.UnregisterOptions{All: hasFlag(args, "all")})
}

func (sh *shell) call(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("call: не задан адрес")
	}
	return sh.line.StartCall(ctx, args[0], hasFlag(args[1:], "anon"))
}

func (sh *shell) answer(ctx context.Context, _ []string) error {
	return sh.line.AnswerCall(ctx, nil)
}

func (sh *shell) hangup(ctx context.Context, args []string) error {
	var opts engine.TerminateOptions
	if len(args) > 0 {
		code, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("hangup: некорректный код %q", args[0])
		}
		opts.StatusCode = code
		opts.ReasonPhrase = strings.Join(args[1:], " ")
	}
	return sh.line.StopCall(ctx, opts)
}

func (sh *shell) hold(ctx context.Context, args []string) error {
	return sh.line.Hold(ctx, hasFlag(args, "update"))
}

func (sh *shell) unhold(ctx context.Context, args []string) error {
	return sh.line.Unhold(ctx, hasFlag(args, "update"))
}

func (sh *shell) toggleHold(ctx context.Context, args []string) error {
	return sh.line.ToggleHold(ctx, hasFlag(args, "update"))
}

func (sh *shell) mute(ctx context.Context, _ []string) error {
	return sh.line.MuteMicrophone(ctx)
}

func (sh *shell) unmute(ctx context.Context, _ []string) error {
	return sh.line.UnmuteMicrophone(ctx)
}

func (sh *shell) toggleMute(ctx context.Context, _ []string) error {
	return sh.line.ToggleMuteMicrophone(ctx)
}

func (sh *shell) dtmf(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("dtmf: не заданы тоны")
	}
	var durations [2]time.Duration
	for i, arg := range args[1:] {
		if i >= len(durations) {
			break
		}
		ms, err := strconv.Atoi(arg)
		if err != nil || ms < 0 {
			return fmt.Errorf("dtmf: некорректная длительность %q", arg)
		}
		durations[i] = time.Duration(ms) * time.Millisecond
	}
	return sh.line.SendDTMF(ctx, args[0], durations[0], durations[1])
}

func (sh *shell) renegotiate(ctx context.Context, args []string) error {
	return sh.line.Renegotiate(ctx, engine.RenegotiateOptions{UseUpdate: hasFlag(args, "update")})
}

func (sh *shell) output(ctx context.Context, args []string) error {
	if len(args) == 0 {
		sh.printf("вывод: %s", sh.line.AudioOutputDeviceID())
		return nil
	}
	return sh.line.SetAudioOutputDevice(ctx, args[0])
}

func (sh *shell) reinit(ctx context.Context, _ []string) error {
	return sh.line.Reinitialize(ctx)
}

func (sh *shell) simulate(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("sim: не задано событие")
	}
	switch strings.ToLower(args[0]) {
	case "register":
		return sh.sim.register()
	case "incoming":
		from := "sip:bob@example.com"
		if len(args) > 1 {
			from = args[1]
		}
		return sh.sim.incoming(from)
	case "accept":
		return sh.sim.accept()
	case "hangup":
		return sh.sim.hangup()
	case "fail":
		cause := "Rejected"
		if len(args) > 1 {
			cause = strings.Join(args[1:], " ")
		}
		return sh.sim.fail(cause)
	case "disconnect":
		return sh.sim.disconnect()
	}
	return fmt.Errorf("sim: неизвестное событие %q", args[0])
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if strings.EqualFold(a, flag) {
			return true
		}
	}
	return false
}

// simulator доставляет события mock движка от имени удаленной стороны
type simulator struct {
	factory *mockengine.Factory
}

var errNoAgent = errors.New("sim: агент не создан, проверьте host, port и user")

func (s *simulator) ua() (*mockengine.UA, error) {
	ua := s.factory.Last()
	if ua == nil || ua.Stopped() {
		return nil, errNoAgent
	}
	return ua, nil
}

func (s *simulator) session() (*mockengine.UA, *mockengine.Session, error) {
	ua, err := s.ua()
	if err != nil {
		return nil, nil, err
	}
	sess := ua.LastSession()
	if sess == nil {
		return nil, nil, errors.New("sim: нет сессии")
	}
	return ua, sess, nil
}

func (s *simulator) register() error {
	ua, err := s.ua()
	if err != nil {
		return err
	}
	ua.EmitRegistration()
	return nil
}

func (s *simulator) incoming(from string) error {
	ua, err := s.ua()
	if err != nil {
		return err
	}
	ua.Incoming(from)
	return nil
}

func (s *simulator) accept() error {
	ua, sess, err := s.session()
	if err != nil {
		return err
	}
	ua.Emit(engine.SessionAccepted{Session: sess})
	remote := media.NewRemoteTrack(media.TrackKindAudio, 0)
	remote.Push(media.SilenceFrame())
	ua.Emit(engine.TrackAdded{Session: sess, Track: remote})
	return nil
}

func (s *simulator) hangup() error {
	ua, sess, err := s.session()
	if err != nil {
		return err
	}
	ua.Emit(engine.SessionEnded{Session: sess, Originator: engine.OriginatorRemote, Cause: "Terminated"})
	return nil
}

func (s *simulator) fail(cause string) error {
	ua, sess, err := s.session()
	if err != nil {
		return err
	}
	ua.Emit(engine.SessionFailed{Session: sess, Originator: engine.OriginatorRemote, Cause: cause})
	return nil
}

func (s *simulator) disconnect() error {
	ua, err := s.ua()
	if err != nil {
		return err
	}
	ua.Emit(engine.Disconnected{Cause: "Connection Error"})
	return nil
}
