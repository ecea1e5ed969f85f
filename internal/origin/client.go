package origin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

// Response is a fully read origin response. Any status is a successful
// transport; only failures to complete the exchange are errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch issues a GET for key (a path with optional "?query") against the
// origin. Failures to reach the origin are CodeNetwork errors.
func (c *Client) Fetch(ctx context.Context, key string, headers http.Header) (Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Response{}, errors.Wrap(err, errors.CodeInvalidInput, "invalid origin base url")
	}
	path, rawQuery, _ := strings.Cut(key, "?")
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, errors.Wrap(err, errors.CodeInvalidInput, "build origin request")
	}
	copyHeaders(req.Header, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, errors.WrapWithContext(err, errors.CodeNetwork, "origin request failed", map[string]interface{}{
			"key": key,
		})
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errors.WrapWithContext(err, errors.CodeNetwork, "read origin body", map[string]interface{}{
			"key": key,
		})
	}
	return Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// forwardedHeaders are the request headers worth passing to a static origin.
var forwardedHeaders = []string{
	"Accept",
	"Accept-Language",
	"User-Agent",
}

func copyHeaders(dst, src http.Header) {
	for _, k := range forwardedHeaders {
		for _, v := range src.Values(k) {
			dst.Add(k, v)
		}
	}
}
