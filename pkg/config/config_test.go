package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_provider/pkg/engine"
	"github.com/arzzra/sip_provider/pkg/logger"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Provider.Secure)
	assert.True(t, cfg.Provider.AutoRegister)
	assert.Equal(t, engine.DTMFTransportRFC4733, cfg.Provider.DTMFTransportType)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sip", cfg.Metrics.Namespace)
	assert.Equal(t, 46, cfg.Engine.DSCP)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "phone.yaml", `
provider:
  host: pbx.example.com
  port: 8089
  pathname: /ws
  secure: false
  user: "1001"
  password: secret
  auto_answer: true
  dtmf_transport_type: INFO
  extra_headers:
    invite:
      - "X-Line: 1"
log:
  level: debug
  format: json
metrics:
  listen: ":9100"
engine:
  rtp_port_min: 20000
  rtp_port_max: 20100
  keepalive_interval: 15s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Provider
	assert.Equal(t, "pbx.example.com", p.Host)
	assert.Equal(t, 8089, p.Port)
	assert.Equal(t, "/ws", p.Pathname)
	assert.False(t, p.Secure)
	assert.Equal(t, "1001", p.User)
	assert.True(t, p.AutoAnswer)
	assert.True(t, p.AutoRegister, "значение по умолчанию сохраняется")
	assert.Equal(t, engine.DTMFTransportINFO, p.DTMFTransportType)
	assert.Equal(t, []string{"X-Line: 1"}, p.ExtraHeaders.Invite)
	assert.Equal(t, "ws://pbx.example.com:8089/ws", p.SocketURL())

	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.Equal(t, 20000, cfg.Engine.RTPPortMin)
	assert.Equal(t, 15*time.Second, cfg.Engine.KeepAliveInterval)

	log := cfg.Logger()
	assert.True(t, log.IsEnabled(logger.LogLevelDebug))
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "phone.yaml", "provider:\n  host: a.example.com\n  port: 443\n")
	t.Setenv("SIPPHONE_HOST", "b.example.com")
	t.Setenv("SIPPHONE_AUTO_REGISTER", "false")
	t.Setenv("SIPPHONE_INVITE_HEADERS", "X-A: 1;; X-B: 2 ;;")
	t.Setenv("SIPPHONE_DTMF_TRANSPORT", "info")
	t.Setenv("SIPPHONE_REQUEST_TIMEOUT", "3s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "b.example.com", cfg.Provider.Host)
	assert.Equal(t, 443, cfg.Provider.Port)
	assert.False(t, cfg.Provider.AutoRegister)
	assert.Equal(t, []string{"X-A: 1", "X-B: 2"}, cfg.Provider.ExtraHeaders.Invite)
	assert.Equal(t, engine.DTMFTransportINFO, cfg.Provider.DTMFTransportType)
	assert.Equal(t, 3*time.Second, cfg.Engine.RequestTimeout)
}

func TestApplyEnvErrors(t *testing.T) {
	env := map[string]string{
		"SIPPHONE_PORT":             "abc",
		"SIPPHONE_SECURE":           "maybe",
		"SIPPHONE_REGISTER_EXPIRES": "ten",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIPPHONE_PORT")
	assert.Contains(t, err.Error(), "SIPPHONE_SECURE")
	assert.Contains(t, err.Error(), "SIPPHONE_REGISTER_EXPIRES")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"битый yaml", "provider: [1, 2"},
		{"порт", "provider:\n  port: 70000\n"},
		{"session timers", "provider:\n  session_timers_expires: 30\n"},
		{"уровень логирования", "log:\n  level: loud\n"},
		{"формат логов", "log:\n  format: xml\n"},
		{"dscp", "engine:\n  dscp: 64\n"},
		{"rtp порты", "engine:\n  rtp_port_min: 30000\n  rtp_port_max: 20000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.yaml", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestProviderMetrics(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Namespace = "phone"
	m := cfg.ProviderMetrics()
	assert.Equal(t, "phone", m.Namespace)
	assert.Equal(t, "provider", m.Subsystem)
}
