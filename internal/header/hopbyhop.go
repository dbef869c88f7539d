// Package header holds header rules shared by the inbound and outbound legs.
package header

import (
	"net/http"
	"net/textproto"
	"strings"
)

// hopByHop are meaningful only for a single transport-level connection
// and are never forwarded in either direction.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// DropHopByHop removes hop-by-hop headers from h, including any header named
// in Connection. A TE header listing "trailers" is reduced to "TE: trailers" so
// trailer-aware backends still see it.
func DropHopByHop(h http.Header) {
	keepTrailers := acceptsTrailers(h)
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = textproto.TrimString(k); k != "" {
				h.Del(k)
			}
		}
	}
	for _, k := range hopByHop {
		h.Del(k)
	}
	if keepTrailers {
		h.Set("Te", "trailers")
	}
}

// acceptsTrailers reports whether any TE value lists the "trailers" token.
func acceptsTrailers(h http.Header) bool {
	for _, v := range h.Values("Te") {
		for _, tok := range strings.Split(v, ",") {
			// Parameters such as ";q=0.5" are not valid on trailers but are tolerated.
			tok, _, _ = strings.Cut(tok, ";")
			if strings.EqualFold(textproto.TrimString(tok), "trailers") {
				return true
			}
		}
	}
	return false
}

// IsHopByHop reports whether key is one of the fixed hop-by-hop headers.
// Trailer keys are checked with it before they are relayed.
func IsHopByHop(key string) bool {
	key = http.CanonicalHeaderKey(key)
	for _, k := range hopByHop {
		if k == key {
			return true
		}
	}
	return false
}
