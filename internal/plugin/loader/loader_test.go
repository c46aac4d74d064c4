package loader_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/hotplug/internal/plugin"
	"github.com/goatkit/hotplug/internal/plugin/jsvm"
	"github.com/goatkit/hotplug/internal/plugin/loader"
	"github.com/goatkit/hotplug/internal/plugin/remote"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sourceServer serves one handler per path and counts hits per path.
type sourceServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newSourceServer(t *testing.T, routes map[string]http.HandlerFunc) *sourceServer {
	t.Helper()
	s := &sourceServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sourceServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *sourceServer) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

func payload(code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": code})
	}
}

func noPayload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

func source(srv *sourceServer, name string) plugin.SourceConfig {
	return plugin.SourceConfig{Name: name, URL: srv.URL + "/" + name, Method: "POST", Enabled: true}
}

func settingsFor(sources ...plugin.SourceConfig) plugin.Settings {
	return plugin.Settings{
		Enabled:   true,
		Sources:   sources,
		Execution: plugin.ExecutionPolicy{TimeoutMs: 2000, Isolated: true},
		Fetch:     plugin.FetchPolicy{TimeoutMs: 2000},
	}
}

func newPipeline(settings plugin.Settings, opts ...loader.LoaderOption) *loader.Loader {
	fetcher := remote.NewFetcher(settings.Fetch)
	sandbox := jsvm.NewSandbox(settings.Execution, jsvm.WithLogger(quietLogger()))
	opts = append([]loader.LoaderOption{loader.WithLogger(quietLogger())}, opts...)
	return loader.NewLoader(settings, fetcher, sandbox, opts...)
}

func TestRun_DisabledMakesNoRequests(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{"/a": payload("exports.x = 1;")})
	settings := settingsFor(source(srv, "a"))
	settings.Enabled = false

	res, err := newPipeline(settings).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plugin.StatusSkipped, res.Status)
	assert.Equal(t, plugin.MessageDisabled, res.Message)
	assert.Zero(t, res.SourcesChecked)
	assert.Zero(t, srv.Total())
}

func TestRun_NoPayloadsNoExecution(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{
		"/a": noPayload,
		"/b": noPayload,
		"/c": noPayload,
	})
	exec := &countingExecutor{}
	settings := settingsFor(source(srv, "a"), source(srv, "b"), source(srv, "c"))
	l := loader.NewLoader(settings, remote.NewFetcher(settings.Fetch), exec, loader.WithLogger(quietLogger()))

	res, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plugin.StatusSuccess, res.Status)
	assert.Equal(t, 3, res.SourcesChecked)
	assert.Zero(t, exec.calls.Load())
	assert.Equal(t, 3, srv.Total())
}

func TestRun_UnavailableSourceIsSkipped(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{
		"/a": payload("exports.a = true;"),
		"/b": status(http.StatusInternalServerError),
		"/c": noPayload,
		"/d": payload("exports.d = true;"),
	})
	settings := settingsFor(source(srv, "a"), source(srv, "b"), source(srv, "c"), source(srv, "d"))

	res, err := newPipeline(settings).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plugin.StatusSuccess, res.Status)
	assert.Equal(t, 4, res.SourcesChecked)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		assert.Equal(t, 1, srv.Hits(p), p)
	}
}

func TestRun_UnreachableSourceIsSkipped(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{"/b": noPayload})
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	settings := settingsFor(
		plugin.SourceConfig{Name: "gone", URL: deadURL + "/gone", Enabled: true},
		source(srv, "b"),
	)

	res, err := newPipeline(settings).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.SourcesChecked)
	assert.Equal(t, 1, srv.Hits("/b"))
}

func TestRun_DisabledSourcesNotCounted(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{"/a": noPayload, "/b": noPayload})
	off := source(srv, "b")
	off.Enabled = false
	settings := settingsFor(source(srv, "a"), off)

	res, err := newPipeline(settings).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SourcesChecked)
	assert.Zero(t, srv.Hits("/b"))
}

func TestRun_ExecutionTimeoutAbortsRun(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{
		"/a": noPayload,
		"/b": payload("while (true) {}"),
		"/c": payload("exports.c = true;"),
	})
	settings := settingsFor(source(srv, "a"), source(srv, "b"), source(srv, "c"))
	settings.Execution.TimeoutMs = 100

	res, err := newPipeline(settings).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, plugin.ErrExecutionTimeout)
	assert.Equal(t, 1, srv.Hits("/a"))
	assert.Equal(t, 1, srv.Hits("/b"))
	assert.Zero(t, srv.Hits("/c"))
}

func TestRun_ExecutionFailureAbortsRun(t *testing.T) {
	srv := newSourceServer(t, map[string]http.HandlerFunc{
		"/a": payload(`throw new Error("bad plugin")`),
		"/b": payload("exports.b = true;"),
	})
	settings := settingsFor(source(srv, "a"), source(srv, "b"))

	_, err := newPipeline(settings).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrExecutionFailed)

	var execErr *plugin.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "a", execErr.Source)
	assert.Zero(t, srv.Hits("/b"))
}

func TestRun_PrimaryRegistryScenario(t *testing.T) {
	var gotMethod, gotUA, gotCT string
	srv := newSourceServer(t, map[string]http.HandlerFunc{
		"/primary-plugin-registry": func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotUA = r.Header.Get("User-Agent")
			gotCT = r.Header.Get("Content-Type")
			payload(`
				if (typeof require !== "undefined") throw new Error("require exposed");
				if (typeof process !== "undefined") throw new Error("process exposed");
				exports.run = () => 1+1;
			`)(w, r)
		},
	})
	settings := settingsFor(source(srv, "primary-plugin-registry"))
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	res, err := newPipeline(settings, loader.WithClock(func() time.Time { return fixed })).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &plugin.LoadResult{
		Status:         plugin.StatusSuccess,
		Message:        plugin.MessageLoaded,
		Timestamp:      "2024-05-01T09:00:00.000Z",
		SourcesChecked: 1,
	}, res)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, plugin.DefaultUserAgent, gotUA)
	assert.Equal(t, "application/json", gotCT)
}

func TestRun_RunIDPropagates(t *testing.T) {
	exec := &countingExecutor{}
	fetch := fetcherFunc(func(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error) {
		return &remote.Response{StatusCode: 200, Message: "exports.x = 1;"}, nil
	})
	settings := settingsFor(plugin.SourceConfig{Name: "a", URL: "http://example.invalid/a", Enabled: true})
	l := loader.NewLoader(settings, fetch, exec,
		loader.WithLogger(quietLogger()),
		loader.WithRunIDs(func() string { return "run-1" }),
	)

	_, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, exec.runIDs())
}

func TestRun_CallerCancellationAbortsRun(t *testing.T) {
	fetch := fetcherFunc(func(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error) {
		return nil, context.Canceled
	})
	settings := settingsFor(plugin.SourceConfig{Name: "a", URL: "http://example.invalid/a", Enabled: true})
	l := loader.NewLoader(settings, fetch, &countingExecutor{}, loader.WithLogger(quietLogger()))

	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Serialized(t *testing.T) {
	var active, peak atomic.Int32
	exec := executorFunc(func(ctx context.Context, source, code string) (*jsvm.Result, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return &jsvm.Result{Source: source}, nil
	})
	fetch := fetcherFunc(func(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error) {
		return &remote.Response{StatusCode: 200, Message: "1"}, nil
	})
	settings := settingsFor(plugin.SourceConfig{Name: "a", URL: "http://example.invalid/a", Enabled: true})
	l := loader.NewLoader(settings, fetch, exec, loader.WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestRun_WaitingRunHonorsContext(t *testing.T) {
	release := make(chan struct{})
	exec := executorFunc(func(ctx context.Context, source, code string) (*jsvm.Result, error) {
		<-release
		return &jsvm.Result{Source: source}, nil
	})
	fetch := fetcherFunc(func(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error) {
		return &remote.Response{StatusCode: 200, Message: "1"}, nil
	})
	settings := settingsFor(plugin.SourceConfig{Name: "a", URL: "http://example.invalid/a", Enabled: true})
	l := loader.NewLoader(settings, fetch, exec, loader.WithLogger(quietLogger()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Run(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

type fetcherFunc func(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, src plugin.SourceConfig) (*remote.Response, error) {
	return f(ctx, src)
}

type executorFunc func(ctx context.Context, source, code string) (*jsvm.Result, error)

func (f executorFunc) Execute(ctx context.Context, source, code string) (*jsvm.Result, error) {
	return f(ctx, source, code)
}

type countingExecutor struct {
	calls atomic.Int32
	mu    sync.Mutex
	ids   []string
}

func (e *countingExecutor) Execute(ctx context.Context, source, code string) (*jsvm.Result, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.ids = append(e.ids, plugin.RunIDFromContext(ctx))
	e.mu.Unlock()
	return &jsvm.Result{Source: source}, nil
}

func (e *countingExecutor) runIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}
