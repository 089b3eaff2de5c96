package provider

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/arzzra/sip_provider/pkg/engine"
)

// ExtraHeaders дополнительные заголовки по фазам. Передаются движку как
// есть.
type ExtraHeaders struct {
	Register []string `yaml:"register"`
	Invite   []string `yaml:"invite"`
	Hold     []string `yaml:"hold"`
}

// Config конфигурация линии
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Pathname string `yaml:"pathname"`
	Secure   bool   `yaml:"secure"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	AutoRegister bool `yaml:"auto_register"`
	AutoAnswer   bool `yaml:"auto_answer"`
	ICERestart   bool `yaml:"ice_restart"`
	// SessionTimersExpires в секундах
	SessionTimersExpires int `yaml:"session_timers_expires"`

	ExtraHeaders ExtraHeaders       `yaml:"extra_headers"`
	ICEServers   []engine.ICEServer `yaml:"ice_servers"`

	InboundAudioDeviceID  string `yaml:"inbound_audio_device_id"`
	OutboundAudioDeviceID string `yaml:"outbound_audio_device_id"`

	DTMFTransportType engine.DTMFTransport `yaml:"dtmf_transport_type"`
}

// DefaultSessionTimersExpires значение session timers по умолчанию, секунды
const DefaultSessionTimersExpires = 120

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Secure:               true,
		AutoRegister:         true,
		AutoAnswer:           false,
		ICERestart:           false,
		SessionTimersExpires: DefaultSessionTimersExpires,
		DTMFTransportType:    engine.DTMFTransportRFC4733,
	}
}

// Validate проверяет конфигурацию и заполняет значения по умолчанию.
// Пустые host, port и user допустимы: линия остается Disconnected.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("некорректный порт: %d", c.Port)
	}
	if strings.ContainsAny(c.Host, " /@[]") {
		return fmt.Errorf("некорректный host: %q", c.Host)
	}
	if strings.ContainsAny(c.User, " @:") {
		return fmt.Errorf("некорректный user: %q", c.User)
	}
	if c.Pathname != "" && !strings.HasPrefix(c.Pathname, "/") {
		return fmt.Errorf("pathname должен начинаться с '/': %q", c.Pathname)
	}
	if c.SessionTimersExpires < 90 {
		return fmt.Errorf("session timers expires меньше 90 секунд: %d", c.SessionTimersExpires)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.SessionTimersExpires == 0 {
		c.SessionTimersExpires = DefaultSessionTimersExpires
	}
	if c.DTMFTransportType == "" {
		c.DTMFTransportType = engine.DTMFTransportRFC4733
	}
}

// Complete достаточно ли параметров для подключения
func (c Config) Complete() bool {
	return c.Host != "" && c.Port != 0 && c.User != ""
}

// SocketURL адрес транспорта ws(s)://host:port/path
func (c Config) SocketURL() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + c.Pathname
}

// uriHost host для URI, IPv6 адрес в квадратных скобках
func (c Config) uriHost() string {
	if strings.Contains(c.Host, ":") {
		return "[" + c.Host + "]"
	}
	return c.Host
}

// URI адрес пользователя sip:user@host
func (c Config) URI() string {
	return fmt.Sprintf("sip:%s@%s", c.User, c.uriHost())
}

// NeedsReinit требуется ли пересоздать агент при переходе к other.
func (c Config) NeedsReinit(other Config) bool {
	return c.Host != other.Host ||
		c.Port != other.Port ||
		c.Pathname != other.Pathname ||
		c.Secure != other.Secure ||
		c.User != other.User ||
		c.Password != other.Password ||
		c.AutoRegister != other.AutoRegister ||
		c.InboundAudioDeviceID != other.InboundAudioDeviceID ||
		c.OutboundAudioDeviceID != other.OutboundAudioDeviceID ||
		c.DTMFTransportType != other.DTMFTransportType
}

func (c Config) clone() Config {
	out := c
	out.ExtraHeaders = ExtraHeaders{
		Register: slices.Clone(c.ExtraHeaders.Register),
		Invite:   slices.Clone(c.ExtraHeaders.Invite),
		Hold:     slices.Clone(c.ExtraHeaders.Hold),
	}
	out.ICEServers = slices.Clone(c.ICEServers)
	return out
}
