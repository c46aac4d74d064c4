package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/hotplug/internal/apierrors"
	"github.com/goatkit/hotplug/internal/plugin"
	"github.com/goatkit/hotplug/internal/plugin/jsvm"
	"github.com/goatkit/hotplug/internal/plugin/loader"
	"github.com/goatkit/hotplug/internal/plugin/remote"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type runnerFunc func(ctx context.Context) (*plugin.LoadResult, error)

func (f runnerFunc) Run(ctx context.Context) (*plugin.LoadResult, error) { return f(ctx) }

func setupRouter(t *testing.T, runner loader.Runner, logs *plugin.LogBuffer) *gin.Engine {
	t.Helper()
	return NewRouter(Deps{
		Runner:             runner,
		Logs:               logs,
		TriggerRatePerHour: 60,
		Logger:             quietLogger(),
	})
}

func post(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error apierrors.APIError `json:"error"`
}

func TestHandleServerCheck_Success(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "exports.run = () => 1+1;"}`))
	}))
	defer src.Close()

	settings := plugin.Settings{
		Enabled: true,
		Sources: []plugin.SourceConfig{
			{Name: "primary-plugin-registry", URL: src.URL, Method: "POST", Enabled: true},
		},
		Execution: plugin.ExecutionPolicy{TimeoutMs: 2000, Isolated: true},
		Fetch:     plugin.FetchPolicy{TimeoutMs: 2000},
	}
	l := loader.NewLoader(settings,
		remote.NewFetcher(settings.Fetch),
		jsvm.NewSandbox(settings.Execution, jsvm.WithLogger(quietLogger())),
		loader.WithLogger(quietLogger()),
	)
	r := setupRouter(t, loader.NewCoordinator(l, settings.Retry, loader.WithCoordinatorLogger(quietLogger())), nil)

	w := post(r, "/api/server/check")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body, 4)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, plugin.MessageLoaded, body["message"])
	assert.Equal(t, float64(1), body["sourcesChecked"])

	ts, ok := body["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(plugin.TimestampFormat, ts)
	assert.NoError(t, err)
}

func TestHandleServerCheck_Skipped(t *testing.T) {
	r := setupRouter(t, runnerFunc(func(ctx context.Context) (*plugin.LoadResult, error) {
		return plugin.Skipped(time.Now()), nil
	}), nil)

	w := post(r, "/api/server/check")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"skipped"`)
	assert.Contains(t, w.Body.String(), `"sourcesChecked":0`)
}

func TestHandleServerCheck_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "timeout after retries",
			err:    &plugin.RetryExhaustedError{Attempts: 3, Err: &plugin.ExecutionError{Source: "a", Timeout: true}},
			status: http.StatusGatewayTimeout,
			code:   apierrors.CodeExecutionTimeout,
		},
		{
			name:   "execution failure",
			err:    &plugin.RetryExhaustedError{Attempts: 1, Err: &plugin.ExecutionError{Source: "a", Err: errors.New("secret detail")}},
			status: http.StatusBadGateway,
			code:   apierrors.CodeExecutionFailed,
		},
		{
			name:   "cancelled",
			err:    context.Canceled,
			status: http.StatusServiceUnavailable,
			code:   apierrors.CodeServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(t, runnerFunc(func(ctx context.Context) (*plugin.LoadResult, error) {
				return nil, tt.err
			}), nil)

			w := post(r, "/api/server/check")
			assert.Equal(t, tt.status, w.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.NotContains(t, w.Body.String(), "secret detail")
		})
	}
}

func TestHandleServerCheck_RateLimited(t *testing.T) {
	r := NewRouter(Deps{
		Runner: runnerFunc(func(ctx context.Context) (*plugin.LoadResult, error) {
			return plugin.Skipped(time.Now()), nil
		}),
		TriggerRatePerHour: 1,
		Logger:             quietLogger(),
	})

	assert.Equal(t, http.StatusOK, post(r, "/api/server/check").Code)
	w := post(r, "/api/server/check")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandleServerCheck_MethodNotAllowed(t *testing.T) {
	r := setupRouter(t, runnerFunc(func(ctx context.Context) (*plugin.LoadResult, error) {
		t.Fatal("runner must not be called")
		return nil, nil
	}), nil)

	w := get(r, "/api/server/check")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apierrors.CodeNotFound)
}

func TestUnknownRoute(t *testing.T) {
	r := setupRouter(t, nil, nil)

	w := get(r, "/api/nope")
	require.Equal(t, http.StatusNotFound, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apierrors.CodeNotFound, body.Error.Code)
}

func TestHandlePluginLogs(t *testing.T) {
	logs := plugin.NewLogBuffer(10)
	logs.Log("a", "r1", "info", "first")
	logs.Log("b", "r1", "error", "second")
	logs.Log("a", "r2", "warn", "third")
	r := setupRouter(t, nil, logs)

	t.Run("all", func(t *testing.T) {
		w := get(r, "/api/server/plugins/logs")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Logs  []plugin.LogEntry `json:"logs"`
			Count int               `json:"count"`
			Total int               `json:"total"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Count)
		assert.Equal(t, 3, body.Total)
		assert.Equal(t, "third", body.Logs[0].Message)
	})

	t.Run("filtered", func(t *testing.T) {
		w := get(r, "/api/server/plugins/logs?source=a&level=warn")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "third")
		assert.NotContains(t, w.Body.String(), "first")
		assert.NotContains(t, w.Body.String(), "second")
	})

	t.Run("limit", func(t *testing.T) {
		w := get(r, "/api/server/plugins/logs?limit=1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
	})

	invalid := []struct {
		query string
		code  string
	}{
		{"limit=abc", apierrors.CodeInvalidRequest},
		{"limit=-2", apierrors.CodeValidationFailed},
		{"level=loud", apierrors.CodeValidationFailed},
	}
	for _, tt := range invalid {
		t.Run("invalid "+tt.query, func(t *testing.T) {
			w := get(r, "/api/server/plugins/logs?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}

	t.Run("clear", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/server/plugins/logs", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Zero(t, logs.Count())
	})
}

func TestHandleSources(t *testing.T) {
	r := NewRouter(Deps{
		Settings: plugin.Settings{
			Enabled: true,
			Sources: []plugin.SourceConfig{
				{Name: "a", URL: "https://token@example.invalid/a", Method: "GET", Enabled: true},
				{Name: "b", URL: "https://example.invalid/b", Method: "POST"},
			},
		},
		Logger: quietLogger(),
	})

	w := get(r, "/api/server/plugins/sources")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"a"`)
	assert.Contains(t, w.Body.String(), `"enabled":false`)
	assert.NotContains(t, w.Body.String(), "token@")
}

func TestHealthAndMetrics(t *testing.T) {
	r := setupRouter(t, nil, nil)

	w := get(r, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	plugin.GlobalMetrics().RecordRun(plugin.StatusSuccess)
	w = get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hotplug_loader_runs_total")
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", setupRouter(t, nil, nil), quietLogger())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
