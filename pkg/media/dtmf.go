package media

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// DTMFDigit код события DTMF по RFC 4733
type DTMFDigit uint8

const (
	DTMF0 DTMFDigit = iota
	DTMF1
	DTMF2
	DTMF3
	DTMF4
	DTMF5
	DTMF6
	DTMF7
	DTMF8
	DTMF9
	DTMFStar  // *
	DTMFPound // #
	DTMFA
	DTMFB
	DTMFC
	DTMFD
)

const dtmfSymbols = "0123456789*#ABCD"

// DTMFPause символ паузы в строке тонов
const DTMFPause = ','

// DTMFPauseDuration длительность паузы для одного символа ','
const DTMFPauseDuration = 2 * time.Second

// Ограничения длительности тона и паузы между тонами
const (
	MinToneDuration     = 40 * time.Millisecond
	MaxToneDuration     = 6000 * time.Millisecond
	DefaultToneDuration = 100 * time.Millisecond
	MinInterToneGap     = 50 * time.Millisecond
	DefaultInterToneGap = 70 * time.Millisecond
)

func (d DTMFDigit) String() string {
	if int(d) < len(dtmfSymbols) {
		return dtmfSymbols[d : d+1]
	}
	return "?"
}

// ParseDTMFDigit разбирает один символ без учета регистра
func ParseDTMFDigit(r rune) (DTMFDigit, error) {
	i := strings.IndexRune(dtmfSymbols, toUpperASCII(r))
	if i < 0 {
		return 0, fmt.Errorf("%w: %c", ErrInvalidTone, r)
	}
	return DTMFDigit(i), nil
}

func toUpperASCII(r rune) rune {
	if r >= 'a' && r <= 'd' {
		return r - 'a' + 'A'
	}
	return r
}

// ParseDTMFString преобразует строку в последовательность цифр.
// Паузы не допускаются.
func ParseDTMFString(s string) ([]DTMFDigit, error) {
	digits := make([]DTMFDigit, 0, len(s))
	for _, r := range s {
		d, err := ParseDTMFDigit(r)
		if err != nil {
			return nil, err
		}
		digits = append(digits, d)
	}
	return digits, nil
}

// ValidateTones проверяет строку тонов: цифры, *, #, A-D и паузы ','.
func ValidateTones(tones string) error {
	if tones == "" {
		return fmt.Errorf("%w: пустая строка", ErrInvalidTone)
	}
	for _, r := range tones {
		if r == DTMFPause {
			continue
		}
		if _, err := ParseDTMFDigit(r); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeToneTiming приводит длительность и паузу к допустимым границам,
// нулевые значения заменяются значениями по умолчанию.
func NormalizeToneTiming(duration, gap time.Duration) (time.Duration, time.Duration) {
	switch {
	case duration == 0:
		duration = DefaultToneDuration
	case duration < MinToneDuration:
		duration = MinToneDuration
	case duration > MaxToneDuration:
		duration = MaxToneDuration
	}
	switch {
	case gap == 0:
		gap = DefaultInterToneGap
	case gap < MinInterToneGap:
		gap = MinInterToneGap
	}
	return duration, gap
}

// DTMFEvent одно нажатие
type DTMFEvent struct {
	Digit     DTMFDigit
	Duration  time.Duration
	Volume    int8 // от 0 до -63 dBm
	Timestamp uint32
}

// DTMFPayload payload telephone-event по RFC 4733
type DTMFPayload struct {
	Event    uint8
	EndFlag  bool
	Reserved bool
	Volume   uint8 // 0-63, -dBm
	Duration uint16
}

// Marshal сериализует payload в 4 байта
func (p DTMFPayload) Marshal() []byte {
	data := make([]byte, 4)
	data[0] = p.Event
	if p.EndFlag {
		data[1] |= 0x80
	}
	if p.Reserved {
		data[1] |= 0x40
	}
	data[1] |= p.Volume & 0x3F
	data[2] = byte(p.Duration >> 8)
	data[3] = byte(p.Duration)
	return data
}

// DecodeDTMFPayload разбирает payload telephone-event
func DecodeDTMFPayload(data []byte) (DTMFPayload, error) {
	if len(data) < 4 {
		return DTMFPayload{}, fmt.Errorf("некорректный размер DTMF payload: %d", len(data))
	}
	return DTMFPayload{
		Event:    data[0],
		EndFlag:  data[1]&0x80 != 0,
		Reserved: data[1]&0x40 != 0,
		Volume:   data[1] & 0x3F,
		Duration: uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}

// RFC4733Generator формирует RTP пакеты telephone-event. Последовательность
// номеров общая для всех событий одного генератора.
type RFC4733Generator struct {
	mu          sync.Mutex
	payloadType uint8
	ssrc        uint32
	seqNum      uint16
	clockRate   uint32
}

// NewRFC4733Generator создает генератор
func NewRFC4733Generator(payloadType uint8, ssrc uint32, initialSeq uint16) *RFC4733Generator {
	return &RFC4733Generator{
		payloadType: payloadType,
		ssrc:        ssrc,
		seqNum:      initialSeq,
		clockRate:   SampleRate,
	}
}

// GeneratePackets возвращает 3 начальных пакета (marker на первом) и
// 3 конечных с флагом E.
func (g *RFC4733Generator) GeneratePackets(event DTMFEvent) ([]*rtp.Packet, error) {
	if event.Duration <= 0 {
		return nil, fmt.Errorf("длительность DTMF должна быть положительной")
	}
	if int(event.Digit) >= len(dtmfSymbols) {
		return nil, fmt.Errorf("недопустимое DTMF событие: %d", event.Digit)
	}

	samples := uint64(event.Duration) * uint64(g.clockRate) / uint64(time.Second)
	if samples > 0xFFFF {
		samples = 0xFFFF
	}
	volume := uint8(0)
	if event.Volume < 0 {
		volume = uint8(-int(event.Volume))
		if volume > 63 {
			volume = 63
		}
	}
	payload := DTMFPayload{Event: uint8(event.Digit), Volume: volume, Duration: uint16(samples)}

	g.mu.Lock()
	defer g.mu.Unlock()

	packets := make([]*rtp.Packet, 0, 6)
	for i := 0; i < 6; i++ {
		payload.EndFlag = i >= 3
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    g.payloadType,
				SequenceNumber: g.seqNum,
				Timestamp:      event.Timestamp,
				SSRC:           g.ssrc,
			},
			Payload: payload.Marshal(),
		})
		g.seqNum++
	}
	return packets, nil
}
