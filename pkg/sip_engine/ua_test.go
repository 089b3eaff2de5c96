package sip_engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/sip_provider/pkg/engine"
)

func newTestUA(t *testing.T, cfg engine.UAConfig) *UA {
	t.Helper()
	f, err := NewFactory(DefaultConfig(), nil)
	require.NoError(t, err)
	ua, err := f.NewUA(cfg, func(engine.Event) {})
	require.NoError(t, err)
	return ua.(*UA)
}

func validUAConfig() engine.UAConfig {
	return engine.UAConfig{
		URI:       "sip:alice@sip.example.com",
		Password:  "secret",
		SocketURL: "wss://sip.example.com:7443/ws",
		Register:  true,
	}
}

func TestFactory_NewUA_Validation(t *testing.T) {
	f, err := NewFactory(DefaultConfig(), nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*engine.UAConfig)
		handler engine.Handler
	}{
		{"no handler", func(*engine.UAConfig) {}, nil},
		{"bad uri", func(c *engine.UAConfig) { c.URI = "sip:" }, func(engine.Event) {}},
		{"no user", func(c *engine.UAConfig) { c.URI = "sip:sip.example.com" }, func(engine.Event) {}},
		{"bad socket", func(c *engine.UAConfig) { c.SocketURL = "http://sip.example.com" }, func(engine.Event) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validUAConfig()
			tt.mutate(&cfg)
			_, err := f.NewUA(cfg, tt.handler)
			assert.Error(t, err)
		})
	}
}

func TestUA_NotStarted(t *testing.T) {
	ua := newTestUA(t, validUAConfig())
	ctx := context.Background()

	assert.False(t, ua.IsConnected())
	assert.ErrorIs(t, ua.Register(ctx), ErrNotStarted)
	assert.ErrorIs(t, ua.Unregister(ctx, engine.UnregisterOptions{}), ErrNotStarted)
	_, err := ua.Call(ctx, "bob", engine.CallOptions{})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NoError(t, ua.TerminateSessions(ctx, engine.TerminateOptions{}))

	require.NoError(t, ua.Stop())
	require.NoError(t, ua.Stop())
	assert.ErrorIs(t, ua.Start(ctx), ErrStopped)
	assert.ErrorIs(t, ua.Register(ctx), ErrStopped)
}

func TestUA_ResolveTarget(t *testing.T) {
	ua := newTestUA(t, validUAConfig())

	tests := map[string]string{
		"bob":                      "sip:bob@sip.example.com",
		" 1001 ":                   "sip:1001@sip.example.com",
		"bob@other.example.com":    "sip:bob@other.example.com",
		"sip:carol@pbx.local:5080": "sip:carol@pbx.local:5080",
	}
	for in, want := range tests {
		uri, err := ua.resolveTarget(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, uri.String(), in)
	}

	_, err := ua.resolveTarget("  ")
	assert.Error(t, err)
}

func TestUA_OutboundRoute(t *testing.T) {
	ua := newTestUA(t, validUAConfig())
	route := ua.outboundRoute()
	assert.Contains(t, route, "sip.example.com:7443")
	assert.Contains(t, route, "lr")
	assert.Contains(t, route, "transport=wss")
}

func TestUA_SetRegisterExtraHeadersCopies(t *testing.T) {
	ua := newTestUA(t, validUAConfig())
	headers := []string{"X-Line: 1"}
	ua.SetRegisterExtraHeaders(headers)
	headers[0] = "X-Line: 2"

	ua.mu.Lock()
	defer ua.mu.Unlock()
	assert.Equal(t, []string{"X-Line: 1"}, ua.regHeaders)
}
