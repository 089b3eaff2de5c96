package sip_engine

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraHeaders(t *testing.T) {
	headers := parseExtraHeaders([]string{
		"X-Account: 42",
		"X-Empty:",
		"no colon",
		": value",
		"Bad Name: x",
		"Subject:  hello: world ",
	})
	require.Len(t, headers, 3)
	assert.Equal(t, "X-Account", headers[0].Name())
	assert.Equal(t, "42", headers[0].Value())
	assert.Equal(t, "", headers[1].Value())
	assert.Equal(t, "hello: world", headers[2].Value())
}

func TestCauseFromStatus(t *testing.T) {
	tests := map[int]string{
		401: causeAuthentication,
		407: causeAuthentication,
		403: causeRejected,
		404: causeNotFound,
		408: causeRequestTimeout,
		480: causeUnavailable,
		484: causeAddressIncomplete,
		486: causeBusy,
		600: causeBusy,
		487: causeCanceled,
		488: causeIncompatibleSDP,
		603: causeRejected,
		302: causeRedirected,
		500: causeSIPFailure,
	}
	for code, want := range tests {
		assert.Equal(t, want, causeFromStatus(code), code)
	}
}

func TestDefaultReason(t *testing.T) {
	assert.Equal(t, "Busy Here", defaultReason(486))
	assert.Equal(t, "Temporarily Unavailable", defaultReason(480))
	assert.Equal(t, "Rejected", defaultReason(499))
}

func TestDTMFRelay(t *testing.T) {
	body := dtmfRelayBody('#', 160*time.Millisecond)
	assert.Equal(t, "Signal=#\r\nDuration=160\r\n", string(body))

	digit, ok := parseDTMFRelay(body)
	require.True(t, ok)
	assert.Equal(t, "#", digit)

	digit, ok = parseDTMFRelay([]byte("Duration=100\nsignal= 5\n"))
	require.True(t, ok)
	assert.Equal(t, "5", digit)

	_, ok = parseDTMFRelay([]byte("Duration=100\r\n"))
	assert.False(t, ok)
}

func testVia() *sip.ViaHeader {
	return &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "192.0.2.1",
		Port:            5060,
		Params:          sip.NewParams(),
	}
}

// registerRequest REGISTER с минимальным набором заголовков для ответа
func registerRequest() *sip.Request {
	aor := sip.Uri{User: "alice", Host: "sip.example.com"}
	req := sip.NewRequest(sip.REGISTER, sip.Uri{Host: "sip.example.com"})
	req.AppendHeader(testVia())
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: sip.NewParams().Add("tag", "a1")})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
	callID := sip.CallIDHeader("register-test")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.REGISTER})
	return req
}

func responseWith(headers ...sip.Header) *sip.Response {
	res := sip.NewResponseFromRequest(registerRequest(), 200, "OK", nil)
	for _, h := range headers {
		res.AppendHeader(h)
	}
	return res
}

func TestExpiresFromResponse(t *testing.T) {
	contactParams := sip.NewParams()
	contactParams = contactParams.Add("expires", "120")
	res := responseWith(
		&sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "192.0.2.1"}, Params: contactParams},
		sip.NewHeader("Expires", "300"),
	)
	assert.Equal(t, 120, expiresFromResponse(res, 600))

	res = responseWith(sip.NewHeader("Expires", "300"))
	assert.Equal(t, 300, expiresFromResponse(res, 600))

	res = responseWith()
	require.NotNil(t, res.To())
	assert.Equal(t, 600, expiresFromResponse(res, 600))
}

func TestEnsureToTag(t *testing.T) {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: "bob", Host: "sip.example.com"})
	req.AppendHeader(testVia())
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{User: "bob", Host: "sip.example.com"}, Params: sip.NewParams()})
	res := sip.NewResponseFromRequest(req, 486, "Busy Here", nil)

	ensureToTag(res)
	tag, ok := res.To().Params.Get("tag")
	require.True(t, ok)
	assert.NotEmpty(t, tag)

	ensureToTag(res)
	again, _ := res.To().Params.Get("tag")
	assert.Equal(t, tag, again)
}
