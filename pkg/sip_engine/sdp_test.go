package sip_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSDP_ParsesBack(t *testing.T) {
	body, err := buildSDP(localMedia{
		Host:            "192.0.2.10",
		Port:            40000,
		SessionID:       42,
		Version:         3,
		Direction:       dirSendOnly,
		Codecs:          []uint8{payloadPCMA, payloadPCMU},
		DTMFPayloadType: 101,
	})
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "m=audio 40000 RTP/AVP 8 0 101")
	assert.Contains(t, text, "a=rtpmap:101 telephone-event/8000")
	assert.Contains(t, text, "a=fmtp:101 0-15")
	assert.Contains(t, text, "a=sendonly")

	remote, err := parseSDP(body)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", remote.Addr.IP.String())
	assert.Equal(t, 40000, remote.Addr.Port)
	assert.Equal(t, []uint8{payloadPCMA, payloadPCMU}, remote.Codecs)
	assert.Equal(t, uint8(101), remote.DTMFPayloadType)
	assert.Equal(t, dirSendOnly, remote.Direction)
	assert.True(t, remote.OnHold())
}

func TestBuildSDP_DefaultsToSendRecv(t *testing.T) {
	body, err := buildSDP(localMedia{Host: "2001:db8::1", Port: 5004, Codecs: []uint8{payloadPCMU}})
	require.NoError(t, err)
	assert.Contains(t, string(body), "c=IN IP6 2001:db8::1")
	assert.Contains(t, string(body), "a=sendrecv")
	assert.NotContains(t, string(body), "telephone-event")
}

func TestBuildSDP_Errors(t *testing.T) {
	_, err := buildSDP(localMedia{Port: 5004, Codecs: []uint8{payloadPCMU}})
	assert.Error(t, err)
	_, err = buildSDP(localMedia{Host: "192.0.2.1", Port: 5004})
	assert.Error(t, err)
}

const offerTemplate = "v=0\r\n" +
	"o=- 1 1 IN IP4 198.51.100.7\r\n" +
	"s=-\r\n" +
	"c=IN IP4 198.51.100.7\r\n" +
	"t=0 0\r\n" +
	"%MEDIA%"

func offer(media string) []byte {
	return []byte(strings.ReplaceAll(offerTemplate, "%MEDIA%", media))
}

func TestParseSDP_FiltersCodecs(t *testing.T) {
	remote, err := parseSDP(offer("m=audio 30000 RTP/AVP 9 8 96\r\n" +
		"a=rtpmap:96 telephone-event/8000\r\n" +
		"a=inactive\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []uint8{payloadPCMA}, remote.Codecs)
	assert.Equal(t, uint8(96), remote.DTMFPayloadType)
	assert.Equal(t, dirInactive, remote.Direction)
	assert.True(t, remote.OnHold())
}

func TestParseSDP_Errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not sdp", []byte("hello")},
		{"no audio", offer("m=video 30000 RTP/AVP 96\r\n")},
		{"disabled audio", offer("m=audio 0 RTP/AVP 0\r\n")},
		{"no common codec", offer("m=audio 30000 RTP/AVP 9 18\r\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSDP(tt.body)
			assert.Error(t, err)
		})
	}
}

func TestAnswerDirection(t *testing.T) {
	tests := []struct {
		offered   string
		localHold bool
		want      string
	}{
		{dirSendRecv, false, dirSendRecv},
		{dirSendRecv, true, dirSendOnly},
		{dirSendOnly, false, dirRecvOnly},
		{dirSendOnly, true, dirInactive},
		{dirRecvOnly, false, dirSendOnly},
		{dirInactive, false, dirInactive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, answerDirection(tt.offered, tt.localHold), "%s hold=%v", tt.offered, tt.localHold)
	}
}

func TestMediaDirection(t *testing.T) {
	assert.Equal(t, dirSendRecv, mediaDirection(false, false))
	assert.Equal(t, dirSendOnly, mediaDirection(true, false))
	assert.Equal(t, dirRecvOnly, mediaDirection(false, true))
	assert.Equal(t, dirInactive, mediaDirection(true, true))
}
