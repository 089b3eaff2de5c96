package sip_engine

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Payload type поддерживаемых кодеков
const (
	payloadPCMU uint8 = 0
	payloadPCMA uint8 = 8
)

// Направления медиа потока
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
	dirRecvOnly = "recvonly"
	dirInactive = "inactive"
)

var codecNames = map[uint8]string{
	payloadPCMU: "PCMU",
	payloadPCMA: "PCMA",
}

// localMedia параметры локального описания сессии
type localMedia struct {
	Host            string
	Port            int
	SessionID       uint64
	Version         uint64
	Direction       string
	Codecs          []uint8
	DTMFPayloadType uint8
}

// buildSDP формирует offer или answer с одним аудио потоком
func buildSDP(l localMedia) ([]byte, error) {
	if l.Host == "" || l.Port <= 0 {
		return nil, fmt.Errorf("sdp: не задан локальный адрес медиа")
	}
	if len(l.Codecs) == 0 {
		return nil, fmt.Errorf("sdp: нет кодеков")
	}
	addrType := "IP4"
	if ip := net.ParseIP(l.Host); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      l.SessionID,
			SessionVersion: l.Version,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: l.Host,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: l.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
	}

	formats := make([]string, 0, len(l.Codecs)+1)
	attrs := make([]sdp.Attribute, 0, len(l.Codecs)+4)
	for _, pt := range l.Codecs {
		formats = append(formats, strconv.Itoa(int(pt)))
		attrs = append(attrs, sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/8000", pt, codecNames[pt])))
	}
	if l.DTMFPayloadType != 0 {
		formats = append(formats, strconv.Itoa(int(l.DTMFPayloadType)))
		attrs = append(attrs,
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d telephone-event/8000", l.DTMFPayloadType)),
			sdp.NewAttribute("fmtp", fmt.Sprintf("%d 0-15", l.DTMFPayloadType)))
	}
	attrs = append(attrs, sdp.NewAttribute("ptime", "20"))
	direction := l.Direction
	if direction == "" {
		direction = dirSendRecv
	}
	attrs = append(attrs, sdp.NewPropertyAttribute(direction))

	desc.MediaDescriptions = []*sdp.MediaDescription{{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: l.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: attrs,
	}}
	return desc.Marshal()
}

// remoteMedia результат разбора описания удаленной стороны
type remoteMedia struct {
	Addr            *net.UDPAddr
	Codecs          []uint8
	DTMFPayloadType uint8
	Direction       string
}

// OnHold удерживает ли нас удаленная сторона
func (r remoteMedia) OnHold() bool {
	return r.Direction == dirSendOnly || r.Direction == dirInactive
}

// parseSDP разбирает аудио поток удаленного описания. Кодеки
// возвращаются в порядке предпочтения удаленной стороны, только
// поддерживаемые.
func parseSDP(body []byte) (remoteMedia, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return remoteMedia{}, fmt.Errorf("sdp: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" && md.MediaName.Port.Value != 0 {
			audio = md
			break
		}
	}
	if audio == nil {
		return remoteMedia{}, fmt.Errorf("sdp: нет аудио потока")
	}

	conn := audio.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return remoteMedia{}, fmt.Errorf("sdp: нет адреса соединения")
	}
	ip := net.ParseIP(conn.Address.Address)
	if ip == nil {
		return remoteMedia{}, fmt.Errorf("sdp: некорректный адрес %q", conn.Address.Address)
	}

	out := remoteMedia{
		Addr:      &net.UDPAddr{IP: ip, Port: audio.MediaName.Port.Value},
		Direction: dirSendRecv,
	}
	for _, f := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		if _, ok := codecNames[uint8(pt)]; ok {
			out.Codecs = append(out.Codecs, uint8(pt))
		}
	}
	for _, a := range audio.Attributes {
		switch a.Key {
		case "rtpmap":
			pt, name := parseRtpmap(a.Value)
			if strings.EqualFold(name, "telephone-event") && pt >= 96 {
				out.DTMFPayloadType = uint8(pt)
			}
		case dirSendRecv, dirSendOnly, dirRecvOnly, dirInactive:
			out.Direction = a.Key
		}
	}
	if len(out.Codecs) == 0 {
		return remoteMedia{}, fmt.Errorf("sdp: нет общих кодеков")
	}
	return out, nil
}

// parseRtpmap "101 telephone-event/8000" -> 101, telephone-event
func parseRtpmap(v string) (int, string) {
	fields := strings.Fields(v)
	if len(fields) < 2 {
		return -1, ""
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1, ""
	}
	name, _, _ := strings.Cut(fields[1], "/")
	return pt, name
}

// answerDirection направление ответа на направление предложения
func answerDirection(offered string, localHold bool) string {
	switch offered {
	case dirSendOnly:
		if localHold {
			return dirInactive
		}
		return dirRecvOnly
	case dirRecvOnly:
		return dirSendOnly
	case dirInactive:
		return dirInactive
	}
	if localHold {
		return dirSendOnly
	}
	return dirSendRecv
}
