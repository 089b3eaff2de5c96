package sip_engine

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config параметры SIP движка, не зависящие от линии
type Config struct {
	// UserAgent значение заголовка User-Agent
	UserAgent string `yaml:"user_agent"`
	// LocalHost адрес для Contact и SDP. Пусто: определяется по маршруту
	// до регистратора.
	LocalHost string `yaml:"local_host"`
	// ListenPort порт UDP слушателя для транспорта udp, 0 означает любой
	ListenPort int `yaml:"listen_port"`

	RegisterExpires   time.Duration `yaml:"register_expires"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`

	// Диапазон портов RTP, 0 означает любой свободный
	RTPPortMin int `yaml:"rtp_port_min"`
	RTPPortMax int `yaml:"rtp_port_max"`
	// DSCP маркировка RTP пакетов, 46 = EF
	DSCP int `yaml:"dscp"`
	// DTMFPayloadType динамический payload type для telephone-event
	DTMFPayloadType uint8 `yaml:"dtmf_payload_type"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		UserAgent:         "sip-provider",
		RegisterExpires:   600 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		RequestTimeout:    10 * time.Second,
		DSCP:              46,
		DTMFPayloadType:   101,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.RegisterExpires <= 0 {
		c.RegisterExpires = d.RegisterExpires
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.DTMFPayloadType == 0 {
		c.DTMFPayloadType = d.DTMFPayloadType
	}
	return c
}

// Validate проверяет диапазоны
func (c Config) Validate() error {
	if c.RTPPortMin < 0 || c.RTPPortMax > 65535 || c.RTPPortMin > c.RTPPortMax {
		return fmt.Errorf("некорректный диапазон RTP портов: %d-%d", c.RTPPortMin, c.RTPPortMax)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("некорректный DSCP: %d", c.DSCP)
	}
	if c.DTMFPayloadType < 96 || c.DTMFPayloadType > 127 {
		return fmt.Errorf("payload type DTMF вне динамического диапазона: %d", c.DTMFPayloadType)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("некорректный порт слушателя: %d", c.ListenPort)
	}
	return nil
}

// socketTarget адрес регистратора, разобранный из socket URL
type socketTarget struct {
	Transport string
	Host      string
	Port      int
	Path      string
}

var defaultPorts = map[string]int{
	"ws":  80,
	"wss": 443,
	"udp": 5060,
	"tcp": 5060,
	"tls": 5061,
}

// parseSocketURL разбирает ws(s)://host:port/path. Схемы udp, tcp и tls
// принимаются для работы без WebSocket шлюза.
func parseSocketURL(raw string) (socketTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return socketTarget{}, fmt.Errorf("некорректный socket URL %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	defPort, ok := defaultPorts[scheme]
	if !ok {
		return socketTarget{}, fmt.Errorf("неподдерживаемая схема socket URL: %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return socketTarget{}, fmt.Errorf("в socket URL не указан host: %q", raw)
	}
	port := defPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return socketTarget{}, fmt.Errorf("некорректный порт в socket URL: %q", p)
		}
	}
	return socketTarget{Transport: scheme, Host: host, Port: port, Path: u.Path}, nil
}

// Addr host:port
func (t socketTarget) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// sipTransport имя транспорта для параметра transport и Via
func (t socketTarget) sipTransport() string {
	return strings.ToUpper(t.Transport)
}

// Secure шифрованный ли транспорт
func (t socketTarget) Secure() bool {
	return t.Transport == "wss" || t.Transport == "tls"
}

// listenNetwork сеть для локального слушателя
func (t socketTarget) listenNetwork() string {
	return t.Transport
}
