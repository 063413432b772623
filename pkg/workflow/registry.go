package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/metanorma/fractor-go/pkg/fractor"
)

// WorkerRegistry maps a class tag (e.g. "http", "shell") to the fractor.WorkerFactory
// that implements it, so a Definition built from serialized configuration (a job
// description read from YAML/JSON rather than assembled in Go code) can resolve
// Job.WorkerClass by name instead of requiring a compiled-in function reference.
type WorkerRegistry struct {
	factories map[string]fractor.WorkerFactory
}

// NewWorkerRegistry constructs an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{factories: make(map[string]fractor.WorkerFactory)}
}

// NewDefaultWorkerRegistry constructs a registry preloaded with the built-in worker
// classes: "http" and "shell".
func NewDefaultWorkerRegistry() *WorkerRegistry {
	r := NewWorkerRegistry()
	r.Register("http", NewHTTPWorker)
	r.Register("shell", NewShellWorker)
	return r
}

// Register binds tag to factory, overwriting any existing binding.
func (r *WorkerRegistry) Register(tag string, factory fractor.WorkerFactory) {
	r.factories[tag] = factory
}

// Lookup returns the factory bound to tag, if any.
func (r *WorkerRegistry) Lookup(tag string) (fractor.WorkerFactory, bool) {
	f, ok := r.factories[tag]
	return f, ok
}

// Tags lists every registered class tag.
func (r *WorkerRegistry) Tags() []string {
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}

// HTTPRequest is the expected Work.Input shape for an HTTPWorker.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// HTTPResponse is the output an HTTPWorker produces on success.
type HTTPResponse struct {
	StatusCode int            `json:"status_code"`
	Body       map[string]any `json:"body,omitempty"`
	Raw        string         `json:"raw,omitempty"`
}

// httpWorker performs a single HTTP round-trip per Work.Input, parsing a JSON response
// body when possible and falling back to the raw text otherwise.
type httpWorker struct {
	client *http.Client
}

// NewHTTPWorker constructs a fractor.Worker that issues one HTTP request per Work.
func NewHTTPWorker() fractor.Worker {
	return &httpWorker{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (w *httpWorker) Process(ctx context.Context, work fractor.Work) fractor.WorkResult {
	req, ok := work.Input.(HTTPRequest)
	if !ok {
		return fractor.NewErrorResult(work, &fractor.ValidationError{Err: fmt.Errorf("http worker: input is %T, want HTTPRequest", work.Input)})
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fractor.NewErrorResult(work, &fractor.ValidationError{Err: fmt.Errorf("marshal request body: %w", err)})
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return fractor.NewErrorResult(work, fmt.Errorf("build http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fractor.NewErrorResult(work, fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fractor.NewErrorResult(work, fmt.Errorf("read http response: %w", err))
	}

	out := HTTPResponse{StatusCode: resp.StatusCode}
	if len(respBody) > 0 {
		if jsonErr := json.Unmarshal(respBody, &out.Body); jsonErr != nil {
			out.Raw = string(respBody)
		}
	}

	if resp.StatusCode >= 400 {
		return fractor.NewErrorResult(work, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody)))
	}
	return fractor.NewSuccessResult(work, out)
}

// ShellCommand is the expected Work.Input shape for a ShellWorker.
type ShellCommand struct {
	Command string `json:"command"`
}

// ShellOutput is the output a ShellWorker produces on success.
type ShellOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// shellWorker runs a whitelisted external command per Work.Input.
type shellWorker struct {
	allowed map[string]bool
}

// NewShellWorker constructs a fractor.Worker restricted to a small whitelist of
// read-only/reporting commands.
func NewShellWorker() fractor.Worker {
	return &shellWorker{
		allowed: map[string]bool{
			"echo": true, "cat": true, "grep": true, "awk": true, "sed": true, "jq": true,
		},
	}
}

func (w *shellWorker) Process(ctx context.Context, work fractor.Work) fractor.WorkResult {
	cmd, ok := work.Input.(ShellCommand)
	if !ok {
		return fractor.NewErrorResult(work, &fractor.ValidationError{Err: fmt.Errorf("shell worker: input is %T, want ShellCommand", work.Input)})
	}

	parts := strings.Fields(cmd.Command)
	if len(parts) == 0 {
		return fractor.NewErrorResult(work, &fractor.ValidationError{Err: fmt.Errorf("empty command")})
	}
	if !w.allowed[parts[0]] {
		return fractor.NewErrorResult(work, &fractor.ValidationError{Err: fmt.Errorf("command not allowed: %s", parts[0])})
	}

	execCmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	if err := execCmd.Run(); err != nil {
		return fractor.NewErrorResult(work, fmt.Errorf("command failed: %w: %s", err, stderr.String()))
	}

	return fractor.NewSuccessResult(work, ShellOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: execCmd.ProcessState.ExitCode(),
	})
}
