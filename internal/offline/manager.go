// Package offline keeps a versioned generation of static assets and answers
// every asset request from either the origin or that generation, depending on
// the resource class of the request.
package offline

import (
	"context"
	stderrors "errors"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/52poke/engquiz/internal/cache"
	"github.com/52poke/engquiz/internal/lock"
	"github.com/52poke/engquiz/internal/origin"
)

// storageLockKey guards every mutation of the cache storage: install writes,
// activate evictions, entry-point write-back and refresh.
const storageLockKey = "cache-storage"

const installConcurrency = 4

type Network interface {
	Fetch(ctx context.Context, key string, header http.Header) (origin.Response, error)
}

type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
)

type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

type Options struct {
	Version  string
	Manifest []string
	Store    cache.Store
	Network  Network
	Locker   lock.Locker
	Logger   *zap.Logger
	Now      func() time.Time
}

type Manager struct {
	version  string
	manifest []string
	store    cache.Store
	network  Network
	locker   lock.Locker
	log      *zap.Logger
	now      func() time.Time

	controlling atomic.Bool
}

func New(opts Options) (*Manager, error) {
	if opts.Version == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "cache version is required")
	}
	if opts.Store == nil || opts.Network == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "store and network are required")
	}
	if len(opts.Manifest) == 0 {
		return nil, errors.New(errors.CodeInvalidConfig, "asset manifest is empty")
	}

	manifest := make([]string, 0, len(opts.Manifest))
	seen := map[string]struct{}{}
	for _, p := range opts.Manifest {
		key := cache.EntryKey(p, "")
		if Classify(Request{Path: key}) == ClassData {
			return nil, errors.WithContext(
				errors.New(errors.CodeInvalidConfig, "data resources must not be pre-cached"),
				"path", p,
			)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		manifest = append(manifest, key)
	}

	m := &Manager{
		version:  opts.Version,
		manifest: manifest,
		store:    opts.Store,
		network:  opts.Network,
		locker:   opts.Locker,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if m.locker == nil {
		m.locker = lock.NewLocalLocker()
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.log = m.log.With(zap.String("generation", m.version))
	return m, nil
}

func (m *Manager) Version() string {
	return m.version
}

func (m *Manager) Manifest() []string {
	return append([]string(nil), m.manifest...)
}

// Controlling reports whether Activate has claimed clients.
func (m *Manager) Controlling() bool {
	return m.controlling.Load()
}

func (m *Manager) Generations(ctx context.Context) ([]string, error) {
	return m.store.Generations(ctx)
}

// Install fetches every manifest asset and stores them in the current
// generation. Nothing is written unless every asset came back 2xx. Install
// never removes a generation.
func (m *Manager) Install(ctx context.Context) error {
	objects := make([]cache.Object, len(m.manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, key := range m.manifest {
		g.Go(func() error {
			resp, err := m.network.Fetch(gctx, key, nil)
			if err != nil {
				return err
			}
			if !isOK(resp.Status) {
				return errors.WithContextMap(
					errors.New(errors.CodeUnavailable, "manifest asset returned a non-2xx status"),
					map[string]interface{}{"key": key, "status": resp.Status},
				)
			}
			objects[i] = m.objectFrom(resp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.log.Error("install failed", zap.Error(err))
		return err
	}

	err := m.withStorageLock(ctx, func(ctx context.Context) error {
		if err := m.store.Open(ctx, m.version); err != nil {
			return err
		}
		var written []previousEntry
		for i, key := range m.manifest {
			prev, err := m.store.Get(ctx, m.version, key)
			switch {
			case err == nil:
				written = append(written, previousEntry{key: key, obj: prev, existed: true})
			case stderrors.Is(err, cache.ErrNotFound):
				written = append(written, previousEntry{key: key})
			default:
				m.rollback(ctx, written)
				return errors.WrapWithContext(err, errors.CodeInternal, "read manifest asset", map[string]interface{}{
					"key": key,
				})
			}
			if err := m.store.Put(ctx, m.version, key, objects[i]); err != nil {
				m.rollback(ctx, written)
				return errors.WrapWithContext(err, errors.CodeInternal, "store manifest asset", map[string]interface{}{
					"key": key,
				})
			}
		}
		return nil
	})
	if err != nil {
		m.log.Error("install failed", zap.Error(err))
		return err
	}

	m.log.Info("installed", zap.Int("assets", len(m.manifest)))
	return nil
}

// previousEntry is what a manifest key held before Install touched it.
type previousEntry struct {
	key     string
	obj     cache.Object
	existed bool
}

// rollback puts back the entries an earlier Install left and removes the ones
// this Install added.
func (m *Manager) rollback(ctx context.Context, entries []previousEntry) {
	for _, e := range entries {
		var err error
		if e.existed {
			err = m.store.Put(ctx, m.version, e.key, e.obj)
		} else {
			err = m.store.Delete(ctx, m.version, e.key)
		}
		if err != nil {
			m.log.Warn("rollback failed", zap.String("key", e.key), zap.Error(err))
		}
	}
}

// Activate evicts every generation other than the current one and then claims
// clients. It is the only path that deletes generations and is safe to repeat.
// A failed eviction leaves the manager not controlling.
func (m *Manager) Activate(ctx context.Context) error {
	var dropped []string
	err := m.withStorageLock(ctx, func(ctx context.Context) error {
		if err := m.store.Open(ctx, m.version); err != nil {
			return err
		}
		names, err := m.store.Generations(ctx)
		if err != nil {
			return err
		}
		var errs []error
		for _, name := range names {
			if name == m.version {
				continue
			}
			if err := m.store.DropGeneration(ctx, name); err != nil {
				errs = append(errs, errors.WrapWithContext(err, errors.CodeInternal, "drop generation", map[string]interface{}{
					"name": name,
				}))
				continue
			}
			dropped = append(dropped, name)
		}
		return stderrors.Join(errs...)
	})
	if err != nil {
		m.log.Error("activate failed", zap.Strings("dropped", dropped), zap.Error(err))
		return err
	}

	m.controlling.Store(true)
	m.log.Info("activated", zap.Strings("dropped", dropped))
	return nil
}

// HandleFetch answers one request. Network-first classes return any response
// that made it back from the origin and fall back to the cache only when the
// origin could not be reached. Static assets come from the cache and fall
// back to the origin on a miss.
func (m *Manager) HandleFetch(ctx context.Context, req Request) (Response, error) {
	class := Classify(req)
	if class.NetworkFirst() {
		return m.networkFirst(ctx, req, class)
	}
	return m.cacheFirst(ctx, req, class)
}

func (m *Manager) networkFirst(ctx context.Context, req Request, class Class) (Response, error) {
	key := req.Key()
	resp, netErr := m.network.Fetch(ctx, key, req.Header)
	if netErr == nil {
		if class == ClassEntryPoint && isOK(resp.Status) && isHTMLShell(key, resp.Header) {
			m.writeBack(ctx, key, resp)
		}
		return networkResponse(resp), nil
	}

	m.log.Debug("network failed, trying cache",
		zap.String("key", key), zap.Stringer("class", class), zap.Error(netErr))

	obj, err := m.store.Get(ctx, m.version, key)
	if err == nil {
		return cachedResponse(obj), nil
	}
	if !stderrors.Is(err, cache.ErrNotFound) {
		m.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	return Response{}, unavailable(netErr, key, class)
}

func (m *Manager) cacheFirst(ctx context.Context, req Request, class Class) (Response, error) {
	key := req.Key()
	obj, err := m.store.Get(ctx, m.version, key)
	if err == nil {
		return cachedResponse(obj), nil
	}
	if !stderrors.Is(err, cache.ErrNotFound) {
		m.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	resp, netErr := m.network.Fetch(ctx, key, req.Header)
	if netErr != nil {
		return Response{}, unavailable(netErr, key, class)
	}
	return networkResponse(resp), nil
}

// writeBack refreshes the cached shell. It runs under the storage lock and
// relies on Put refusing unknown generations, so it never recreates a
// generation that activate already evicted.
func (m *Manager) writeBack(ctx context.Context, key string, resp origin.Response) {
	obj := m.objectFrom(resp)
	err := m.withStorageLock(ctx, func(ctx context.Context) error {
		return m.store.Put(ctx, m.version, key, obj)
	})
	switch {
	case err == nil:
	case stderrors.Is(err, cache.ErrGenerationNotFound):
		m.log.Info("skip write-back, generation evicted", zap.String("key", key))
	default:
		m.log.Warn("write-back failed", zap.String("key", key), zap.Error(err))
	}
}

// Refresh re-fetches a single asset into the current generation. A 4xx from
// the origin removes the entry; 5xx and transport failures leave it alone.
func (m *Manager) Refresh(ctx context.Context, key string) error {
	key = cache.EntryKey(key, "")
	if Classify(Request{Path: key}) == ClassData {
		return errors.WithContext(
			errors.New(errors.CodeInvalidInput, "data resources are not pre-cached"),
			"key", key,
		)
	}
	resp, err := m.network.Fetch(ctx, key, nil)
	if err != nil {
		return err
	}
	if !isOK(resp.Status) {
		if resp.Status < http.StatusInternalServerError {
			return m.withStorageLock(ctx, func(ctx context.Context) error {
				return m.store.Delete(ctx, m.version, key)
			})
		}
		return errors.WithContextMap(
			errors.New(errors.CodeUnavailable, "origin returned a server error"),
			map[string]interface{}{"key": key, "status": resp.Status},
		)
	}

	obj := m.objectFrom(resp)
	err = m.withStorageLock(ctx, func(ctx context.Context) error {
		return m.store.Put(ctx, m.version, key, obj)
	})
	if err != nil {
		return err
	}
	m.log.Info("refreshed", zap.String("key", key))
	return nil
}

func (m *Manager) withStorageLock(ctx context.Context, fn func(ctx context.Context) error) error {
	l, err := m.locker.Lock(ctx, storageLockKey)
	if err != nil {
		return errors.Wrap(err, errors.CodeConflict, "acquire cache storage lock")
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			m.log.Warn("release cache storage lock", zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (m *Manager) objectFrom(resp origin.Response) cache.Object {
	return cache.Object{
		Status:      resp.Status,
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Encoding:    resp.Header.Get("Content-Encoding"),
		UpdatedAt:   m.now().UTC(),
	}
}

func networkResponse(resp origin.Response) Response {
	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	return Response{
		Status: resp.Status,
		Header: header,
		Body:   resp.Body,
		Source: SourceNetwork,
	}
}

func cachedResponse(obj cache.Object) Response {
	header := http.Header{}
	if obj.ContentType != "" {
		header.Set("Content-Type", obj.ContentType)
	}
	if obj.Encoding != "" {
		header.Set("Content-Encoding", obj.Encoding)
	}
	return Response{
		Status: obj.StatusCode(),
		Header: header,
		Body:   obj.Body,
		Source: SourceCache,
	}
}

func unavailable(cause error, key string, class Class) error {
	return errors.WrapWithContext(cause, errors.CodeUnavailable, "resource unavailable", map[string]interface{}{
		"key":   key,
		"class": class.String(),
	})
}

// IsUnavailable reports whether err means neither the origin nor the cache
// could answer.
func IsUnavailable(err error) bool {
	return errors.GetCode(err) == errors.CodeUnavailable
}

// isHTMLShell reports whether an entry-point response is the HTML shell. A
// navigation to a question bank or an image is entry-point too but must not
// be written back.
func isHTMLShell(key string, header http.Header) bool {
	path, _, _ := strings.Cut(key, "?")
	if path == "/" || strings.HasSuffix(path, ".html") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}
