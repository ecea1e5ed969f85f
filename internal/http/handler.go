package httpx

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/52poke/engquiz/internal/offline"
)

const cacheStatusHeader = "X-Engquiz-Cache"

type Handler struct {
	Manager *offline.Manager
	Proxy   *httputil.ReverseProxy
	Log     *zap.Logger
}

func NewHandler(originBaseURL string, manager *offline.Manager, log *zap.Logger) (*Handler, error) {
	u, err := url.Parse(originBaseURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	return &Handler{
		Manager: manager,
		Proxy:   proxy,
		Log:     log,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !Interceptable(r) {
		h.Proxy.ServeHTTP(w, r)
		return
	}

	req := ToRequest(r)
	resp, err := h.Manager.HandleFetch(r.Context(), req)
	if err != nil {
		if offline.IsUnavailable(err) {
			h.Log.Info("resource unavailable",
				zap.String("key", req.Key()),
				zap.Stringer("class", offline.Classify(req)),
				zap.Error(err))
			http.Error(w, "resource unavailable", http.StatusGatewayTimeout)
			return
		}
		h.Log.Error("fetch failed", zap.String("key", req.Key()), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	writeResponse(w, resp)
}

// ServeReady answers 200 once the manager has installed and activated.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	if !h.Manager.Controlling() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeResponse(w http.ResponseWriter, resp offline.Response) {
	for k, vv := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	if resp.Source == offline.SourceCache {
		w.Header().Set(cacheStatusHeader, "HIT")
	} else {
		w.Header().Set(cacheStatusHeader, "NETWORK")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
