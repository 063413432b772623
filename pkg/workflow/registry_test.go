package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metanorma/fractor-go/pkg/fractor"
)

func TestWorkerRegistryLookup(t *testing.T) {
	r := NewDefaultWorkerRegistry()

	factory, ok := r.Lookup("http")
	require.True(t, ok)
	require.NotNil(t, factory)

	_, ok = r.Lookup("nonexistent")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"http", "shell"}, r.Tags())
}

func TestWorkerRegistryRegisterOverride(t *testing.T) {
	r := NewWorkerRegistry()
	r.Register("custom", failingWorkerFactory)
	r.Register("custom", echoWorkerFactory)

	factory, ok := r.Lookup("custom")
	require.True(t, ok)
	work := fractor.NewWork("x")
	result := factory().Process(context.Background(), work)
	assert.True(t, result.Success)
	assert.Equal(t, "x", result.Result)
}

func TestHTTPWorkerSucceedsOnOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	worker := NewHTTPWorker()
	result := worker.Process(context.Background(), fractor.NewWork(HTTPRequest{Method: http.MethodGet, URL: srv.URL}))
	require.True(t, result.Success)
	resp, ok := result.Result.(HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, resp.Body["ok"])
}

func TestHTTPWorkerFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	worker := NewHTTPWorker()
	result := worker.Process(context.Background(), fractor.NewWork(HTTPRequest{Method: http.MethodGet, URL: srv.URL}))
	assert.False(t, result.Success)
}

func TestHTTPWorkerRejectsWrongInputType(t *testing.T) {
	worker := NewHTTPWorker()
	result := worker.Process(context.Background(), fractor.NewWork("not a request"))
	assert.False(t, result.Success)
	assert.Equal(t, fractor.CategoryValidation, result.ErrorCategory)
}

func TestShellWorkerRunsWhitelistedCommand(t *testing.T) {
	worker := NewShellWorker()
	result := worker.Process(context.Background(), fractor.NewWork(ShellCommand{Command: "echo hello"}))
	require.True(t, result.Success)
	out, ok := result.Result.(ShellOutput)
	require.True(t, ok)
	assert.Contains(t, out.Stdout, "hello")
	assert.Equal(t, 0, out.ExitCode)
}

func TestShellWorkerRejectsDisallowedCommand(t *testing.T) {
	worker := NewShellWorker()
	result := worker.Process(context.Background(), fractor.NewWork(ShellCommand{Command: "rm -rf /"}))
	assert.False(t, result.Success)
	assert.Equal(t, fractor.CategoryValidation, result.ErrorCategory)
}

func TestShellWorkerRejectsEmptyCommand(t *testing.T) {
	worker := NewShellWorker()
	result := worker.Process(context.Background(), fractor.NewWork(ShellCommand{Command: ""}))
	assert.False(t, result.Success)
}
