package provider

import (
	"context"
	"sync"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/media"
)

// deviceBinder привязывает аудио устройства к AudioSink и к отправителям
// активной сессии. Все ошибки логируются и не прерывают вызов.
type deviceBinder struct {
	directory media.DeviceDirectory
	sink      media.AudioSink
	capturer  media.Capturer
	tones     media.TonePlayer
	log       logger.StructuredLogger
	metrics   *Metrics

	mu            sync.Mutex
	currentSinkID string
}

// resolveOutput проверяет устройство вывода по каталогу. Отсутствующее
// или неизвестное устройство заменяется на default.
func (b *deviceBinder) resolveOutput(ctx context.Context, id string) string {
	if id == "" {
		return media.DefaultDeviceID
	}
	exists, err := b.directory.DeviceExists(ctx, id, media.DeviceKindAudioOutput)
	if err != nil {
		b.log.Warn(ctx, "не удалось проверить устройство вывода, используется default",
			logger.String("device_id", id), logger.Err(err))
		return media.DefaultDeviceID
	}
	if !exists {
		b.log.Debug(ctx, "устройство вывода не найдено, используется default",
			logger.String("device_id", id))
		return media.DefaultDeviceID
	}
	return id
}

// bindOutput привязывает sink к устройству. Повторная привязка к тому же
// устройству пропускается.
func (b *deviceBinder) bindOutput(ctx context.Context, id string) error {
	resolved := b.resolveOutput(ctx, id)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentSinkID != "" && b.currentSinkID == resolved {
		return nil
	}
	b.log.Debug(ctx, "привязка устройства вывода", logger.String("sink_id", resolved))
	if err := b.sink.SetSinkID(ctx, resolved); err != nil {
		bindErr := errDeviceBinding("setSinkId", resolved, err)
		b.metrics.deviceBindFailure(string(media.DeviceKindAudioOutput))
		b.log.LogError(ctx, bindErr, "не удалось привязать устройство вывода")
		return bindErr
	}
	b.currentSinkID = resolved
	return nil
}

func (b *deviceBinder) sinkID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentSinkID
}

// bindInbound захватывает поток именно с deviceID и заменяет им трек
// каждого отправителя сессии. stillCurrent проверяет после захвата, что
// сессия еще активна; иначе захваченный поток освобождается.
func (b *deviceBinder) bindInbound(ctx context.Context, s engine.Session, deviceID string, stillCurrent func() bool) error {
	stream, err := b.capturer.Capture(ctx, media.Constraints{Audio: true, DeviceID: deviceID, Exact: true})
	if err != nil {
		bindErr := errDeviceBinding("capture", deviceID, err)
		b.metrics.deviceBindFailure(string(media.DeviceKindAudioInput))
		b.log.LogError(ctx, bindErr, "некорректное устройство ввода",
			logger.Bool("not_found", media.IsDeviceNotFound(err)))
		return bindErr
	}
	if !stillCurrent() {
		stream.Stop()
		return nil
	}

	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		stream.Stop()
		bindErr := errDeviceBinding("capture", deviceID, media.ErrNoStream)
		b.metrics.deviceBindFailure(string(media.DeviceKindAudioInput))
		b.log.LogError(ctx, bindErr, "захваченный поток без аудио")
		return bindErr
	}
	track := tracks[0]
	for _, extra := range tracks[1:] {
		extra.Stop()
	}

	pc := s.Connection()
	if pc == nil {
		track.Stop()
		return nil
	}
	replaced := 0
	for _, sender := range pc.Senders() {
		old := sender.Track()
		b.log.Debug(ctx, "замена трека отправителя", logger.String("track_id", track.ID()))
		if err := sender.ReplaceTrack(ctx, track); err != nil {
			b.metrics.deviceBindFailure(string(media.DeviceKindAudioInput))
			b.log.LogError(ctx, errDeviceBinding("replaceTrack", deviceID, err), "не удалось заменить трек")
			continue
		}
		replaced++
		if old != nil && old.ID() != track.ID() {
			old.Stop()
		}
	}
	if replaced == 0 {
		track.Stop()
	}
	return nil
}

// attachRemote подключает удаленный трек к sink и запускает
// воспроизведение
func (b *deviceBinder) attachRemote(ctx context.Context, track media.Track) {
	b.tones.Stop(media.ToneRinging)
	if track == nil {
		return
	}
	b.sink.SetStream(media.NewStream(track))
	if err := b.sink.Play(ctx); err != nil {
		b.log.Error(ctx, "удаленный звук не воспроизводится", logger.Err(err))
		return
	}
	b.log.Debug(ctx, "удаленный звук воспроизводится", logger.String("track_id", track.ID()))
}

func (b *deviceBinder) restoreRemoteAudio() {
	b.sink.SetMuted(false)
	b.sink.SetVolume(1)
}

func (b *deviceBinder) startRinging() { b.tones.Play(media.ToneRinging) }
func (b *deviceBinder) stopRinging()  { b.tones.Stop(media.ToneRinging) }

// releaseSenders останавливает треки всех отправителей сессии, чтобы
// платформа освободила микрофон
func releaseSenders(s engine.Session) {
	if s == nil {
		return
	}
	pc := s.Connection()
	if pc == nil {
		return
	}
	for _, sender := range pc.Senders() {
		if t := sender.Track(); t != nil {
			t.Stop()
		}
	}
}

// firstDTMFSender DTMF отправитель первого отправителя, который его имеет
func firstDTMFSender(s engine.Session) engine.DTMFSender {
	pc := s.Connection()
	if pc == nil {
		return nil
	}
	for _, sender := range pc.Senders() {
		if d := sender.DTMF(); d != nil {
			return d
		}
	}
	return nil
}

type nopTones struct{}

func (nopTones) Play(string) {}
func (nopTones) Stop(string) {}
