package model

import (
	"strings"
	"time"
)

// ResponseType is the detected content category of a Response body.
type ResponseType int

const (
	ResponseUnknown ResponseType = iota
	ResponseHTML
	ResponseJSON
	ResponseText
	ResponseBinary
)

func (t ResponseType) String() string {
	switch t {
	case ResponseHTML:
		return "html"
	case ResponseJSON:
		return "json"
	case ResponseText:
		return "text"
	case ResponseBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Response is produced by the transport for every fetch attempt that
// reaches an HTTP status. It is exclusively owned by whichever task is
// currently processing it.
type Response struct {
	URL          string
	Status       uint16
	Headers      map[string]string
	RawBody      []byte
	DecodedBody  string
	Timestamp    time.Time
	RetryCount   int
	RetryHistory map[RetryCategory]int
	Meta         map[string]any
	ResponseType ResponseType
	FromRequest  *Request
}

// DetectResponseType implements the §4.2 content-type detection rule:
// consult the Content-Type header first, falling back to sniffing the
// decoded body.
func DetectResponseType(headers map[string]string, decodedBody string) ResponseType {
	if ct := headerLookup(headers, "Content-Type"); ct != "" {
		lower := strings.ToLower(ct)
		switch {
		case strings.Contains(lower, "text/html"):
			return ResponseHTML
		case strings.Contains(lower, "application/json"):
			return ResponseJSON
		case strings.Contains(lower, "text/"):
			return ResponseText
		default:
			return ResponseBinary
		}
	}

	trimmed := strings.TrimSpace(decodedBody)
	lowerTrimmed := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		return ResponseJSON
	case strings.HasPrefix(lowerTrimmed, "<!doctype"), strings.HasPrefix(lowerTrimmed, "<html"):
		return ResponseHTML
	default:
		return ResponseText
	}
}

func headerLookup(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
