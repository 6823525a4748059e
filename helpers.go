package nostr

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeURL turns any relay address into a canonical ws:// or wss:// URL so that
// the same relay written in two ways is only connected to once.
func NormalizeURL(u string) string {
	if u == "" {
		return ""
	}

	u = strings.TrimSpace(u)
	if !strings.Contains(u, "://") {
		if strings.HasPrefix(u, "localhost") || strings.HasPrefix(u, "127.0.0.1") {
			u = "ws://" + u
		} else {
			u = "wss://" + u
		}
	}

	p, err := url.Parse(u)
	if err != nil {
		return ""
	}

	switch p.Scheme {
	case "http":
		p.Scheme = "ws"
	case "https":
		p.Scheme = "wss"
	}

	p.Host = strings.ToLower(p.Host)
	p.Path = strings.TrimRight(p.Path, "/")

	return p.String()
}

// IsValidRelayURL checks if a URL is a valid relay URL (ws:// or wss://).
func IsValidRelayURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Scheme != "wss" && parsed.Scheme != "ws" {
		return false
	}
	return parsed.Host != ""
}

// escapeString escapes s for JSON according to RFC8259 and encloses it in quotes.
// Only the characters NIP-01 requires are escaped, so the output is the canonical form.
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c >= 0x20:
			dst = append(dst, c)
		case c == 0x08:
			dst = append(dst, '\\', 'b')
		case c == 0x09:
			dst = append(dst, '\\', 't')
		case c == 0x0a:
			dst = append(dst, '\\', 'n')
		case c == 0x0c:
			dst = append(dst, '\\', 'f')
		case c == 0x0d:
			dst = append(dst, '\\', 'r')
		default:
			const hexdigits = "0123456789abcdef"
			dst = append(dst, '\\', 'u', '0', '0', hexdigits[c>>4], hexdigits[c&0xf])
		}
	}
	dst = append(dst, '"')
	return dst
}

// subIdToSerial extracts the counter part of a "<counter>:<label>" subscription id.
func subIdToSerial(subId string) int64 {
	n := strings.IndexByte(subId, ':')
	if n < 0 {
		return -1
	}
	serialId, err := strconv.ParseInt(subId[0:n], 10, 64)
	if err != nil {
		return -1
	}
	return serialId
}
