// Package refresh implements the PURGE endpoint: re-fetch one pre-cached asset
// into the current generation and, when configured, purge it from the cache
// sitting in front of this proxy.
package refresh

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/52poke/engquiz/internal/cache"
	"github.com/52poke/engquiz/internal/offline"
)

const MethodPurge = "PURGE"

type Handler struct {
	Manager *offline.Manager
	// DownstreamPurge is the base URL of a downstream cache that accepts
	// PURGE requests. Empty disables it.
	DownstreamPurge string
	HTTPClient      *http.Client
	Log             *zap.Logger
}

type purgePayload struct {
	Path string `json:"path"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, err := readPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := h.Manager.Refresh(ctx, path); err != nil {
		h.logger().Warn("refresh failed", zap.String("path", path), zap.Error(err))
		switch errors.GetCode(err) {
		case errors.CodeInvalidInput:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	if err := h.purgeDownstream(ctx, path); err != nil {
		h.logger().Warn("downstream purge failed", zap.String("path", path), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// readPath takes the asset from ?path=, then X-Path, then a JSON body, and
// finally the request path itself.
func readPath(r *http.Request) (string, error) {
	if v := r.URL.Query().Get("path"); v != "" {
		return v, nil
	}
	if v := r.Header.Get("X-Path"); v != "" {
		return v, nil
	}
	if r.Body != nil {
		defer r.Body.Close()
		var payload purgePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil && payload.Path != "" {
			return payload.Path, nil
		}
	}
	if p := strings.TrimSpace(r.URL.Path); p != "" && p != "/" {
		return p, nil
	}
	return "", stderrors.New("path not found")
}

func (h *Handler) purgeDownstream(ctx context.Context, path string) error {
	if strings.TrimSpace(h.DownstreamPurge) == "" {
		return nil
	}
	base, err := url.Parse(h.DownstreamPurge)
	if err != nil {
		return err
	}
	base.Path = strings.TrimRight(base.Path, "/") + cache.EntryKey(path, "")
	req, err := http.NewRequestWithContext(ctx, MethodPurge, base.String(), nil)
	if err != nil {
		return err
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return stderrors.New("downstream purge failed")
	}
	return nil
}
