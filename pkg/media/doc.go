// Package media содержит аудио примитивы, которыми пользуется провайдер
// и движок сессий: каталог устройств, треки и потоки захвата,
// AudioSink для воспроизведения удаленного звука, служебные сигналы и
// формирование DTMF пакетов по RFC 4733.
//
// Реальные устройства платформы подключаются через интерфейсы
// DeviceDirectory, Capturer и AudioSink. Реализации в пакете
// (StaticDirectory, SilenceCapturer, MemorySink) работают без звуковой
// подсистемы и используются CLI и тестами.
package media
