// Package quiz models a quiz run over one question bank: loading, shuffling,
// answering and scoring, as an explicit state machine.
package quiz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/52poke/engquiz/internal/offline"
)

// ErrBankUnavailable means the question bank could not be fetched or decoded.
var ErrBankUnavailable = errors.New(errors.CodeUnavailable, "question bank unavailable")

type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
	Article     string   `json:"article,omitempty"`
}

// Fetcher returns the raw bytes of a question bank file.
type Fetcher interface {
	Fetch(ctx context.Context, file string) ([]byte, error)
}

// ManagerFetcher reads banks through the offline manager, so they follow the
// network-first data strategy.
type ManagerFetcher struct {
	Manager *offline.Manager
}

func (f ManagerFetcher) Fetch(ctx context.Context, file string) ([]byte, error) {
	resp, err := f.Manager.HandleFetch(ctx, offline.Request{Path: "/" + strings.TrimPrefix(file, "/")})
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", file, resp.Status)
	}
	return resp.Body, nil
}

// HTTPFetcher reads banks from a running proxy or any static host.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, file string) ([]byte, error) {
	u, err := url.JoinPath(f.BaseURL, file)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", file, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// LoadBank fetches and decodes a bank. Every failure, including an empty
// bank, is reported as ErrBankUnavailable.
func LoadBank(ctx context.Context, f Fetcher, file string) ([]Question, error) {
	data, err := f.Fetch(ctx, file)
	if err != nil {
		return nil, stderrors.Join(ErrBankUnavailable, err)
	}
	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, stderrors.Join(ErrBankUnavailable, fmt.Errorf("decode %s: %w", file, err))
	}
	if len(questions) == 0 {
		return nil, stderrors.Join(ErrBankUnavailable, fmt.Errorf("%s has no questions", file))
	}
	return questions, nil
}

// Shuffle returns a uniformly shuffled copy (Fisher-Yates).
func Shuffle[T any](r *rand.Rand, in []T) []T {
	out := append([]T(nil), in...)
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
