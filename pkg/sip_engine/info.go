package sip_engine

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"
)

const dtmfRelayContentType = "application/dtmf-relay"

// dtmfRelayBody тело INFO для одного тона
func dtmfRelayBody(digit rune, duration time.Duration) []byte {
	return []byte(fmt.Sprintf("Signal=%c\r\nDuration=%d\r\n", digit, duration.Milliseconds()))
}

// parseDTMFRelay достает Signal из тела application/dtmf-relay
func parseDTMFRelay(body []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Signal") {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}
