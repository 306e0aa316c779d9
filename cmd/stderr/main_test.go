package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/stderr/pkg/app"
	"github.com/armorclaw/stderr/pkg/config"
	"github.com/armorclaw/stderr/pkg/dispatch"
	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/eventbus"
	"github.com/armorclaw/stderr/pkg/logger"
)

func scaffolded(t *testing.T, env string) (*app.Application, *eventbus.Bus) {
	t.Helper()
	dir := t.TempDir()
	created, err := scaffold(dir)
	require.NoError(t, err)
	assert.Contains(t, created, filepath.Join(dir, "stderr.xml"))
	assert.Contains(t, created, filepath.Join(dir, "config.toml"))

	bus := eventbus.New(eventbus.DefaultConfig(), logger.Discard())
	a, err := app.Load(filepath.Join(dir, "stderr.xml"), env,
		app.WithLogger(logger.Discard()),
		app.WithResolver(newResolver(logger.Discard(), bus)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		bus.Close()
	})
	return a, bus
}

func TestScaffold_Idempotent(t *testing.T) {
	dir := t.TempDir()
	first, err := scaffold(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := scaffold(dir)
	require.NoError(t, err)
	assert.Empty(t, second)

	cfg, err := config.Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "stderr.xml", cfg.Application.File)
}

func TestScaffold_RoutingDocumentResolves(t *testing.T) {
	a, _ := scaffolded(t, "local")

	assert.True(t, a.DisplayErrors())
	assert.Len(t, a.Reporters(), 2)
	assert.Len(t, a.Renderers(), 3)
	assert.Equal(t, 404, a.Routes().Match("NotFound").HTTPStatus)
	assert.Equal(t, 422, a.Routes().Match("ValidationError").HTTPStatus)
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, bus := scaffolded(t, "local")
	front := dispatch.New(a, dispatch.WithLogger(logger.Discard()))
	r := newRouter(a, front, bus, config.DefaultConfig(), prometheus.NewRegistry())

	tests := []struct {
		path        string
		status      int
		contentType string
		body        string
	}{
		{"/healthz", http.StatusOK, "application/json", `"status":"ok"`},
		{"/metrics", http.StatusOK, "text/plain", ""},
		{"/demo/notfound", http.StatusNotFound, "text/html", "Nothing here"},
		{"/no/such/page", http.StatusNotFound, "text/html", "no route for /no/such/page"},
		{"/demo/invalid?field=email", http.StatusUnprocessableEntity, "application/json", "invalid value for email"},
		{"/demo/fatal", http.StatusInternalServerError, "text/html", "database unavailable"},
		{"/demo/panic", http.StatusInternalServerError, "text/html", "panic: demo panic"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), tt.contentType)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestRouter_LiveHidesErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, bus := scaffolded(t, "live")
	front := dispatch.New(a, dispatch.WithLogger(logger.Discard()))
	r := newRouter(a, front, bus, config.DefaultConfig(), prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/demo/fatal", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database unavailable")
}

func TestLoadServiceConfig(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[application\n"), 0o600))

	_, _, err := loadServiceConfig(cliConfig{configPath: bad})
	var e *errsys.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errsys.CodeConfigurationInvalid, e.Code)
	assert.Contains(t, e.FormatSummary(), errsys.CodeConfigurationInvalid)

	_, err = scaffold(dir)
	require.NoError(t, err)
	cfg, routing, err := loadServiceConfig(cliConfig{configPath: filepath.Join(dir, "config.toml"), environment: "live"})
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.Application.Environment)
	assert.Equal(t, filepath.Join(dir, "stderr.xml"), routing)
}

func TestUITable_Piped(t *testing.T) {
	var buf bytes.Buffer
	u := newUI(&buf)
	u.Table([]string{"A", "B"}, [][]string{{"1", "2"}, {"3", "4"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"A\tB", "1\t2", "3\t4"}, lines)
}

func TestRunRoutes(t *testing.T) {
	a, _ := scaffolded(t, "local")
	var buf bytes.Buffer
	require.NoError(t, runRoutes(newUI(&buf), a))

	out := buf.String()
	assert.Contains(t, out, "(default)\tErrorController\t500\t500")
	assert.Contains(t, out, "NotFound\t\t404\t404\t\tnotice")
	assert.Contains(t, out, "ValidationError\t\t\t422\tapplication/json\twarning")
}

func TestRunPlugins(t *testing.T) {
	a, _ := scaffolded(t, "local")
	var buf bytes.Buffer
	require.NoError(t, runPlugins(newUI(&buf), a))

	out := buf.String()
	assert.Contains(t, out, "LogReporter\treporter")
	assert.NotContains(t, out, "missing")
}

func TestRouter_ErrorStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, bus := scaffolded(t, "local")
	front := dispatch.New(a, dispatch.WithLogger(logger.Discard()))
	srv := httptest.NewServer(newRouter(a, front, bus, config.DefaultConfig(), prometheus.NewRegistry()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/errors/stream?class=NotFound"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	for _, path := range []string{"/demo/fatal", "/demo/notfound"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev eventbus.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "NotFound", ev.Class)
	assert.Equal(t, http.StatusNotFound, ev.HTTPStatus)
	assert.Equal(t, "no route for /demo/notfound", ev.Message)
}
