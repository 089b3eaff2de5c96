// Package config загружает конфигурацию приложения из YAML файла, .env и
// переменных окружения SIPPHONE_*.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
	"github.com/arzzra/sip_provider/pkg/provider"
	"github.com/arzzra/sip_provider/pkg/sip_engine"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "SIPPHONE_"

// LogConfig параметры логирования
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig параметры экспорта метрик
type MetricsConfig struct {
	// Listen адрес HTTP сервера /metrics, пусто: экспорт выключен
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// Config конфигурация приложения
type Config struct {
	Provider provider.Config   `yaml:"provider"`
	Log      LogConfig         `yaml:"log"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Engine   sip_engine.Config `yaml:"engine"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	m := provider.DefaultMetricsConfig()
	return Config{
		Provider: provider.DefaultConfig(),
		Log:      LogConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{Namespace: m.Namespace, Subsystem: m.Subsystem},
		Engine:   sip_engine.DefaultConfig(),
	}
}

// Load читает .env из текущего каталога (если есть), YAML файл path
// (если задан) и применяет переменные окружения поверх.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("чтение .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("чтение конфигурации: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("разбор %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет все секции
func (c *Config) Validate() error {
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: неизвестный формат %q", c.Log.Format)
	}
	return nil
}

// Logger создает логгер по секции log
func (c Config) Logger() *logger.LogrusLogger {
	lc := logger.DefaultConfig()
	if level, err := logger.ParseLevel(c.Log.Level); err == nil {
		lc.Level = level
	}
	lc.JSON = strings.EqualFold(c.Log.Format, "json")
	return logger.New(lc)
}

// ProviderMetrics параметры регистрации метрик провайдера
func (c Config) ProviderMetrics() provider.MetricsConfig {
	return provider.MetricsConfig{Namespace: c.Metrics.Namespace, Subsystem: c.Metrics.Subsystem}
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	p := &c.Provider
	e.str("HOST", &p.Host)
	e.integer("PORT", &p.Port)
	e.str("PATHNAME", &p.Pathname)
	e.boolean("SECURE", &p.Secure)
	e.str("USER", &p.User)
	e.str("PASSWORD", &p.Password)
	e.boolean("AUTO_REGISTER", &p.AutoRegister)
	e.boolean("AUTO_ANSWER", &p.AutoAnswer)
	e.boolean("ICE_RESTART", &p.ICERestart)
	e.integer("SESSION_TIMERS_EXPIRES", &p.SessionTimersExpires)
	e.list("REGISTER_HEADERS", &p.ExtraHeaders.Register)
	e.list("INVITE_HEADERS", &p.ExtraHeaders.Invite)
	e.list("HOLD_HEADERS", &p.ExtraHeaders.Hold)
	e.str("INBOUND_AUDIO_DEVICE_ID", &p.InboundAudioDeviceID)
	e.str("OUTBOUND_AUDIO_DEVICE_ID", &p.OutboundAudioDeviceID)
	if v, ok := e.get("DTMF_TRANSPORT"); ok {
		p.DTMFTransportType = engine.DTMFTransport(strings.ToUpper(v))
	}

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)
	e.str("METRICS_LISTEN", &c.Metrics.Listen)

	g := &c.Engine
	e.str("USER_AGENT", &g.UserAgent)
	e.str("LOCAL_HOST", &g.LocalHost)
	e.integer("LISTEN_PORT", &g.ListenPort)
	e.integer("RTP_PORT_MIN", &g.RTPPortMin)
	e.integer("RTP_PORT_MAX", &g.RTPPortMax)
	e.integer("DSCP", &g.DSCP)
	e.duration("REGISTER_EXPIRES", &g.RegisterExpires)
	e.duration("KEEPALIVE_INTERVAL", &g.KeepAliveInterval)
	e.duration("REQUEST_TIMEOUT", &g.RequestTimeout)

	return errors.Join(e.errs...)
}

// envReader читает SIPPHONE_* и копит ошибки разбора
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = d
}

// list разбирает заголовки, разделенные ';;'
func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ";;") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
