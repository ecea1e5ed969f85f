package httpx

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/52poke/engquiz/internal/offline"
)

// ToRequest converts an incoming request into the form the manager
// classifies. utm_* parameters are dropped so tagged links share an entry with
// the bare URL.
func ToRequest(r *http.Request) offline.Request {
	cleaned := stripUTMParams(r.URL)
	return offline.Request{
		Path:     cleaned.Path,
		RawQuery: cleaned.RawQuery,
		Navigate: isNavigation(r),
		Header:   r.Header,
	}
}

// Interceptable reports whether the request may be answered from the cache.
// Everything else goes straight to the origin.
func Interceptable(r *http.Request) bool {
	return r.Method == http.MethodGet
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	// Clients without fetch metadata: treat a document request as navigation.
	if r.Header.Get("Sec-Fetch-Dest") != "" {
		return r.Header.Get("Sec-Fetch-Dest") == "document"
	}
	return strings.HasPrefix(r.Header.Get("Accept"), "text/html")
}

func stripUTMParams(u *url.URL) *url.URL {
	clone := *u
	if clone.RawQuery == "" {
		return &clone
	}
	q := clone.Query()
	removed := false
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
			removed = true
		}
	}
	if removed {
		clone.RawQuery = q.Encode()
	}
	return &clone
}
