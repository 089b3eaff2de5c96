package sip_engine

import (
	"errors"
	"strconv"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Причины завершения, которые движок передает в событиях
const (
	causeCanceled          = "Canceled"
	causeRejected          = "Rejected"
	causeBusy              = "Busy"
	causeTerminated        = "Terminated"
	causeConnectionError   = "Connection Error"
	causeRequestTimeout    = "Request Timeout"
	causeAuthentication    = "Authentication Error"
	causeNotFound          = "Not Found"
	causeUnavailable       = "Unavailable"
	causeAddressIncomplete = "Address Incomplete"
	causeIncompatibleSDP   = "Incompatible SDP"
	causeRedirected        = "Redirected"
	causeSIPFailure        = "SIP Failure Code"
	causeBadMediaDesc      = "Bad Media Description"
)

// causeFromStatus причина по коду финального ответа
func causeFromStatus(code int) string {
	switch {
	case code == 401 || code == 407:
		return causeAuthentication
	case code == 408:
		return causeRequestTimeout
	case code == 404 || code == 604:
		return causeNotFound
	case code == 410 || code == 480:
		return causeUnavailable
	case code == 484 || code == 485:
		return causeAddressIncomplete
	case code == 486 || code == 600:
		return causeBusy
	case code == 487:
		return causeCanceled
	case code == 488 || code == 606:
		return causeIncompatibleSDP
	case code == 403 || code == 603:
		return causeRejected
	case code >= 300 && code < 400:
		return causeRedirected
	}
	return causeSIPFailure
}

// responseFromError финальный ответ, вложенный в ошибку ожидания ответа
func responseFromError(err error) *sip.Response {
	var dErr *sipgo.ErrDialogResponse
	if errors.As(err, &dErr) {
		return dErr.Res
	}
	return nil
}

// parseExtraHeaders разбирает строки вида "Name: value". Строки без
// имени пропускаются.
func parseExtraHeaders(lines []string) []sip.Header {
	out := make([]sip.Header, 0, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		out = append(out, sip.NewHeader(name, strings.TrimSpace(value)))
	}
	return out
}

// expiresFromResponse срок регистрации, выданный регистратором
func expiresFromResponse(res *sip.Response, requested int) int {
	if c := res.Contact(); c != nil {
		if v, ok := c.Params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && n > 0 {
			return n
		}
	}
	return requested
}

// ensureToTag добавляет tag в To ответа, если его нет
func ensureToTag(res *sip.Response) {
	to := res.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	if _, ok := to.Params.Get("tag"); !ok {
		to.Params = to.Params.Add("tag", sip.GenerateTagN(16))
	}
}

// defaultReason текстовая часть ответа для кодов, которыми движок
// отклоняет вызовы
func defaultReason(code int) string {
	switch code {
	case 404:
		return "Not Found"
	case 480:
		return "Temporarily Unavailable"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 603:
		return "Decline"
	}
	return "Rejected"
}
