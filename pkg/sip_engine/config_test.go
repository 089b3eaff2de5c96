package sip_engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSocketURL(t *testing.T) {
	tests := []struct {
		raw  string
		want socketTarget
	}{
		{"wss://sip.example.com:7443/ws", socketTarget{Transport: "wss", Host: "sip.example.com", Port: 7443, Path: "/ws"}},
		{"wss://sip.example.com", socketTarget{Transport: "wss", Host: "sip.example.com", Port: 443}},
		{"ws://10.0.0.1", socketTarget{Transport: "ws", Host: "10.0.0.1", Port: 80}},
		{"UDP://pbx.local", socketTarget{Transport: "udp", Host: "pbx.local", Port: 5060}},
		{"tls://pbx.local", socketTarget{Transport: "tls", Host: "pbx.local", Port: 5061}},
		{"tcp://[2001:db8::5]:5080", socketTarget{Transport: "tcp", Host: "2001:db8::5", Port: 5080}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseSocketURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSocketURL_Errors(t *testing.T) {
	for _, raw := range []string{
		"",
		"http://sip.example.com",
		"wss://:443",
		"wss://sip.example.com:0",
		"wss://sip.example.com:70000",
		"://bad",
	} {
		_, err := parseSocketURL(raw)
		assert.Error(t, err, raw)
	}
}

func TestSocketTarget_Helpers(t *testing.T) {
	target := socketTarget{Transport: "wss", Host: "sip.example.com", Port: 443}
	assert.Equal(t, "sip.example.com:443", target.Addr())
	assert.Equal(t, "WSS", target.sipTransport())
	assert.True(t, target.Secure())
	assert.False(t, socketTarget{Transport: "udp"}.Secure())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{DSCP: 10}.withDefaults()
	assert.Equal(t, "sip-provider", cfg.UserAgent)
	assert.Equal(t, 600*time.Second, cfg.RegisterExpires)
	assert.Equal(t, 30*time.Second, cfg.KeepAliveInterval)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, uint8(101), cfg.DTMFPayloadType)
	assert.Equal(t, 10, cfg.DSCP)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"rtp range reversed", func(c *Config) { c.RTPPortMin, c.RTPPortMax = 20000, 10000 }},
		{"rtp port too large", func(c *Config) { c.RTPPortMax = 70000 }},
		{"dscp", func(c *Config) { c.DSCP = 64 }},
		{"static dtmf payload", func(c *Config) { c.DTMFPayloadType = 8 }},
		{"listen port", func(c *Config) { c.ListenPort = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewFactory_RejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(Config{DSCP: 99}, nil)
	assert.Error(t, err)

	f, err := NewFactory(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sip-provider", f.cfg.UserAgent)
	// нулевой DSCP означает без маркировки
	assert.Zero(t, f.cfg.DSCP)
}
