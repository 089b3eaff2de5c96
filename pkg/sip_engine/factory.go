// Package sip_engine реализует движок сессий engine поверх sipgo.
//
// UA держит одно соединение с регистратором (ws, wss, udp, tcp или tls),
// регистрирует AOR с digest аутентификацией и ведет вызовы с одним
// аудио потоком G.711. Медиа передается по RTP (pion/rtp), описание
// сессии строится через pion/sdp.
//
// Все события UA доставляются обработчику из одной горутины в порядке
// возникновения.
package sip_engine

import (
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
)

// Factory создает UA с общей конфигурацией движка
type Factory struct {
	cfg Config
	log logger.StructuredLogger
}

var _ engine.Factory = (*Factory)(nil)

// NewFactory создает фабрику. Пустые поля cfg заполняются значениями по
// умолчанию.
func NewFactory(cfg Config, log logger.StructuredLogger) (*Factory, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Factory{cfg: cfg, log: log}, nil
}

// NewUA проверяет адрес пользователя и socket URL и создает остановленный
// UA. Сетевые операции начинаются в Start.
func (f *Factory) NewUA(cfg engine.UAConfig, handler engine.Handler) (engine.UA, error) {
	if handler == nil {
		return nil, fmt.Errorf("не задан обработчик событий")
	}
	var aor sip.Uri
	if err := sip.ParseUri(cfg.URI, &aor); err != nil {
		return nil, fmt.Errorf("некорректный URI %q: %w", cfg.URI, err)
	}
	if aor.User == "" || aor.Host == "" {
		return nil, fmt.Errorf("в URI %q нет пользователя или домена", cfg.URI)
	}
	target, err := parseSocketURL(cfg.SocketURL)
	if err != nil {
		return nil, err
	}
	return newUA(f.cfg, cfg, aor, target, handler, f.log.WithFields(
		logger.String("aor", aor.User+"@"+aor.Host),
		logger.String("transport", strings.ToLower(target.Transport)),
	)), nil
}
