// Package loader fetches and publishes registry documents: a synchronous
// initial fetch, then either a debounced fsnotify directory watch (file
// sources) or a polling HTTP fetch (remote sources), atomically publishing
// newly compiled snapshots and leaving the previous snapshot in place on
// any failure.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/toolgateway/composition-core/registry"
	"github.com/toolgateway/composition-core/telemetry"
)

// Kind classifies loader failures.
type Kind string

const (
	ErrParse         Kind = "parse_error"
	ErrIO            Kind = "io_error"
	ErrFetch         Kind = "fetch_error"
	ErrInvalidSource Kind = "invalid_source"
)

// Error wraps a Loader failure with its Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("loader [%s] %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("loader [%s] %s", e.Kind, e.Msg)
}
func (e *Error) Unwrap() error { return e.Err }

// Auth describes optional HTTP source authentication.
type Auth struct {
	Bearer string
	Basic  *BasicAuth
}

// BasicAuth carries HTTP Basic credentials.
type BasicAuth struct {
	User, Pass string
}

// Options configures a Loader.
type Options struct {
	// URI is "file://PATH" or "http(s)://HOST/PATH".
	URI string
	// Auth is used for HTTP(S) sources.
	Auth *Auth
	// DebounceInterval is the file-watch coalescing window; defaults to
	// 250ms.
	DebounceInterval time.Duration
	// PollInterval is the HTTP re-fetch cadence; defaults to 30s.
	PollInterval time.Duration
	Logger       telemetry.Logger
	HTTPClient   *http.Client
}

// Loader fetches a registry document, compiles it, and publishes
// successive snapshots to a registry.Store.
type Loader struct {
	opts   Options
	store  *registry.Store
	client *http.Client
	logger telemetry.Logger

	mu       sync.Mutex
	revision int
}

// New constructs a Loader targeting store. Call Start to perform the
// initial synchronous fetch and begin watching/polling.
func New(opts Options, store *registry.Store) *Loader {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 250 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Loader{opts: opts, store: store, client: client, logger: logger}
}

// Start performs the initial synchronous fetch (failing hard on error so
// the process never serves without a registry) and launches the background
// watch/poll goroutine; for file sources it returns only once the
// directory watch is registered. The returned stop function terminates the
// background goroutine; it does not block.
func (l *Loader) Start(ctx context.Context) (stop func(), err error) {
	if err := l.fetchAndPublish(ctx); err != nil {
		return nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	switch {
	case strings.HasPrefix(l.opts.URI, "file://"):
		ready := make(chan struct{})
		go l.watchFile(watchCtx, ready)
		<-ready
	case strings.HasPrefix(l.opts.URI, "http://"), strings.HasPrefix(l.opts.URI, "https://"):
		go l.pollHTTP(watchCtx)
	}
	return cancel, nil
}

func (l *Loader) fetchAndPublish(ctx context.Context) error {
	data, err := l.fetch(ctx)
	if err != nil {
		return err
	}
	cr, err := l.compile(data)
	if err != nil {
		return err
	}
	l.store.Swap(cr)
	return nil
}

// reload re-fetches and re-compiles but, unlike the initial load, never
// returns an error to the caller: a failure here logs and leaves the old
// snapshot in place.
func (l *Loader) reload(ctx context.Context) {
	data, err := l.fetch(ctx)
	if err != nil {
		l.logger.Error(ctx, "registry reload fetch failed, keeping previous snapshot", "error", err)
		return
	}
	cr, err := l.compile(data)
	if err != nil {
		l.logger.Error(ctx, "registry reload compile failed, keeping previous snapshot", "error", err)
		return
	}
	l.store.Swap(cr)
	l.logger.Info(ctx, "registry reloaded", "revision", cr.Revision)
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	switch {
	case strings.HasPrefix(l.opts.URI, "file://"):
		path := strings.TrimPrefix(l.opts.URI, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Kind: ErrIO, Msg: path, Err: err}
		}
		return data, nil
	case strings.HasPrefix(l.opts.URI, "http://"), strings.HasPrefix(l.opts.URI, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.opts.URI, nil)
		if err != nil {
			return nil, &Error{Kind: ErrFetch, Msg: l.opts.URI, Err: err}
		}
		if a := l.opts.Auth; a != nil {
			switch {
			case a.Bearer != "":
				req.Header.Set("Authorization", "Bearer "+a.Bearer)
			case a.Basic != nil:
				req.SetBasicAuth(a.Basic.User, a.Basic.Pass)
			}
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, &Error{Kind: ErrFetch, Msg: l.opts.URI, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &Error{Kind: ErrFetch, Msg: fmt.Sprintf("%s: status %d", l.opts.URI, resp.StatusCode)}
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &Error{Kind: ErrFetch, Msg: l.opts.URI, Err: err}
		}
		return data, nil
	default:
		return nil, &Error{Kind: ErrInvalidSource, Msg: l.opts.URI}
	}
}

// compile parses data (JSON, or YAML normalized to JSON by extension),
// validates, and compiles it into a CompiledRegistry.
func (l *Loader) compile(data []byte) (*registry.CompiledRegistry, error) {
	jsonData := data
	if isYAMLSource(l.opts.URI) {
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, &Error{Kind: ErrParse, Msg: "yaml decode", Err: err}
		}
		var err error
		jsonData, err = json.Marshal(generic)
		if err != nil {
			return nil, &Error{Kind: ErrParse, Msg: "yaml->json re-encode", Err: err}
		}
	}
	reg, err := registry.ParseDocument(jsonData)
	if err != nil {
		return nil, &Error{Kind: ErrParse, Msg: "parse document", Err: err}
	}
	result := registry.Validate(reg)
	if !result.OK() {
		return nil, &Error{Kind: ErrParse, Msg: fmt.Sprintf("registry invalid: %d error(s)", len(result.Errors)), Err: result.Errors[0]}
	}
	l.mu.Lock()
	l.revision++
	rev := fmt.Sprintf("%d", l.revision)
	l.mu.Unlock()
	cr, err := registry.Compile(reg, rev)
	if err != nil {
		return nil, &Error{Kind: ErrParse, Msg: "compile", Err: err}
	}
	return cr, nil
}

func isYAMLSource(uri string) bool {
	ext := strings.ToLower(filepath.Ext(uri))
	return ext == ".yaml" || ext == ".yml"
}

// watchFile watches the containing directory for create/modify events
// touching the target path, debounced by opts.DebounceInterval. It closes
// ready once the watch is registered or its setup has failed.
func (l *Loader) watchFile(ctx context.Context, ready chan<- struct{}) {
	signalReady := sync.OnceFunc(func() { close(ready) })
	defer signalReady()
	path := strings.TrimPrefix(l.opts.URI, "file://")
	dir := filepath.Dir(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Error(ctx, "registry file watch: create watcher failed", "error", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		l.logger.Error(ctx, "registry file watch: add directory failed", "dir", dir, "error", err)
		return
	}
	signalReady()

	var timer *time.Timer
	var timerC <-chan time.Time
	resetDebounce := func() {
		if timer == nil {
			timer = time.NewTimer(l.opts.DebounceInterval)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.opts.DebounceInterval)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			resetDebounce()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error(ctx, "registry file watch error", "error", err)
		case <-timerC:
			l.reload(ctx)
			timerC = nil
		}
	}
}

// pollHTTP re-fetches the HTTP source on a fixed interval.
func (l *Loader) pollHTTP(ctx context.Context) {
	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reload(ctx)
		}
	}
}
