package offline

import (
	"net/http"
	"strings"

	"github.com/52poke/engquiz/internal/cache"
)

// Class is the resource class a request falls into. It decides the fetch
// strategy and is recomputed for every request.
type Class int

const (
	ClassStatic Class = iota
	ClassEntryPoint
	ClassData
)

func (c Class) String() string {
	switch c {
	case ClassEntryPoint:
		return "entry-point"
	case ClassData:
		return "data"
	default:
		return "static"
	}
}

// NetworkFirst reports whether the class prefers a live fetch over the cache.
func (c Class) NetworkFirst() bool {
	return c == ClassEntryPoint || c == ClassData
}

type Request struct {
	Path     string
	RawQuery string
	// Navigate marks a top-level page navigation (Sec-Fetch-Mode: navigate).
	Navigate bool
	Header   http.Header
}

func (r Request) Key() string {
	return cache.EntryKey(r.Path, r.RawQuery)
}

// Classify applies the rules in order: navigations and .html paths are the
// entry point, .json paths are data, everything else is a static asset.
func Classify(r Request) Class {
	switch {
	case r.Navigate || strings.HasSuffix(r.Path, ".html"):
		return ClassEntryPoint
	case strings.HasSuffix(r.Path, ".json"):
		return ClassData
	default:
		return ClassStatic
	}
}
