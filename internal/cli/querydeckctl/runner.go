package querydeckctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Principal  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// request is one API call built from a command line.
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	// outFile receives the raw response body instead of stdout.
	outFile string
}

type usageError string

func (e usageError) Error() string { return string(e) }

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querydeckctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querydeck API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	principal := fs.String("principal", defaults.Principal, "Principal header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:])
	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
			writeUsage(stderr)
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", command, err)
		return 1
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *principal)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if req.outFile != "" {
		if err := os.WriteFile(req.outFile, responseBody, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "write %s: %v\n", req.outFile, err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(responseBody), req.outFile)
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string) (request, error) {
	need := func(n int, shape string) error {
		if len(args) < n {
			return usageError(fmt.Sprintf("usage: %s %s", command, shape))
		}
		return nil
	}
	sessionPath := func(suffix string) string {
		return "/v1/sessions/" + url.PathEscape(args[0]) + suffix
	}

	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "examples":
		return request{method: http.MethodGet, path: "/v1/examples"}, nil
	case "session-create":
		return request{method: http.MethodPost, path: "/v1/sessions"}, nil
	case "session-show":
		if err := need(1, "<session-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodGet, path: sessionPath("")}, nil
	case "upload":
		if err := need(2, "<session-id> <file>..."); err != nil {
			return request{}, err
		}
		body, contentType, err := multipartFiles(args[1:])
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: sessionPath("/datasets"), body: body, contentType: contentType}, nil
	case "join":
		if err := need(4, "<session-id> <left.column> <kind> <right.column>"); err != nil {
			return request{}, err
		}
		leftTable, leftColumn, ok := strings.Cut(args[1], ".")
		if !ok {
			return request{}, usageError("left side must be table.column")
		}
		rightTable, rightColumn, ok := strings.Cut(args[3], ".")
		if !ok {
			return request{}, usageError("right side must be table.column")
		}
		return jsonRequest(http.MethodPost, sessionPath("/joins"), map[string]string{
			"left_table":   leftTable,
			"left_column":  leftColumn,
			"right_table":  rightTable,
			"right_column": rightColumn,
			"kind":         args[2],
		})
	case "ask":
		if err := need(2, "<session-id> <question...>"); err != nil {
			return request{}, err
		}
		return jsonRequest(http.MethodPost, sessionPath("/generate"), map[string]string{
			"question": strings.Join(args[1:], " "),
		})
	case "execute":
		if err := need(1, "<session-id> [sql]"); err != nil {
			return request{}, err
		}
		payload := map[string]any{}
		if len(args) > 1 {
			payload["sql"] = strings.Join(args[1:], " ")
		}
		return jsonRequest(http.MethodPost, sessionPath("/execute"), payload)
	case "charts":
		if err := need(1, "<session-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodGet, path: sessionPath("/result/charts")}, nil
	case "export":
		if err := need(3, "<session-id> <csv|json|xlsx|parquet> <out-file>"); err != nil {
			return request{}, err
		}
		query := url.Values{"format": []string{args[1]}}
		return request{
			method:  http.MethodGet,
			path:    sessionPath("/result/export?" + query.Encode()),
			outFile: args[2],
		}, nil
	case "history":
		if err := need(1, "<session-id>"); err != nil {
			return request{}, err
		}
		return request{method: http.MethodGet, path: sessionPath("/history")}, nil
	default:
		return request{}, usageError(fmt.Sprintf("unknown command %q", command))
	}
}

func jsonRequest(method, path string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, err
	}
	return request{method: method, path: path, body: body, contentType: "application/json"}, nil
}

func multipartFiles(paths []string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", err
		}
		part, err := writer.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func doRequest(ctx context.Context, client *http.Client, in request, endpoint, apiKey, principal string) (int, []byte, error) {
	var body io.Reader
	if in.body != nil {
		body = bytes.NewReader(in.body)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(principal) != "" {
		req.Header.Set("X-Principal", strings.TrimSpace(principal))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querydeckctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  examples                                 GET /v1/examples")
	_, _ = fmt.Fprintln(w, "  session-create                           POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  session-show <id>                        GET /v1/sessions/{id}")
	_, _ = fmt.Fprintln(w, "  upload <id> <file>...                    POST /v1/sessions/{id}/datasets")
	_, _ = fmt.Fprintln(w, "  join <id> <l.col> <kind> <r.col>         POST /v1/sessions/{id}/joins")
	_, _ = fmt.Fprintln(w, "  ask <id> <question...>                   POST /v1/sessions/{id}/generate")
	_, _ = fmt.Fprintln(w, "  execute <id> [sql]                       POST /v1/sessions/{id}/execute")
	_, _ = fmt.Fprintln(w, "  charts <id>                              GET /v1/sessions/{id}/result/charts")
	_, _ = fmt.Fprintln(w, "  export <id> <format> <out-file>          GET /v1/sessions/{id}/result/export")
	_, _ = fmt.Fprintln(w, "  history <id>                             GET /v1/sessions/{id}/history")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
