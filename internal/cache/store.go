package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("cache object not found")
	ErrGenerationNotFound = errors.New("cache generation not found")
)

type Object struct {
	Status      int
	Body        []byte
	ContentType string
	Encoding    string
	UpdatedAt   time.Time
}

// Store holds asset entries grouped into named generations. Implementations
// must make a single Put, Delete or DropGeneration atomic with respect to
// readers of the same key.
type Store interface {
	Open(ctx context.Context, generation string) error
	Generations(ctx context.Context) ([]string, error)
	DropGeneration(ctx context.Context, generation string) error
	Get(ctx context.Context, generation, key string) (Object, error)
	Put(ctx context.Context, generation, key string, obj Object) error
	Delete(ctx context.Context, generation, key string) error
}

// StatusCode returns the stored status, treating a zero value as 200.
func (o Object) StatusCode() int {
	if o.Status == 0 {
		return http.StatusOK
	}
	return o.Status
}

// EntryKey normalizes a request path (and optional raw query) into the key
// used inside a generation. "./index.html" and "/index.html" share a key.
func EntryKey(path, rawQuery string) string {
	path = strings.TrimSpace(path)
	if path == "." {
		path = "/"
	}
	path = strings.TrimPrefix(path, "./")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if rawQuery != "" {
		return path + "?" + rawQuery
	}
	return path
}
