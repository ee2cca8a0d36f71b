package autoqueryctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/autoquery/autoquery/internal/chat"
	"github.com/autoquery/autoquery/internal/query"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type runner struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	output    string
	sessionID string
	showSteps bool
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	stdin := defaults.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	fs := flag.NewFlagSet("autoqueryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "AutoQuery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")
	output := fs.String("output", "table", "query output format: table, csv or json")
	session := fs.String("session", "", "chat session id to continue")
	steps := fs.Bool("steps", false, "print tool calls made while answering")

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
	r := &runner{
		client:    client,
		baseURL:   strings.TrimRight(*baseURL, "/"),
		apiKey:    strings.TrimSpace(*apiKey),
		output:    strings.ToLower(strings.TrimSpace(*output)),
		sessionID: strings.TrimSpace(*session),
		showSteps: *steps,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	switch command {
	case "health":
		return r.simple(ctx, http.MethodGet, "/health")
	case "schema", "tables":
		return r.schema(ctx)
	case "query":
		if rest == "" {
			_, _ = fmt.Fprintln(stderr, "query requires a SQL statement")
			return 2
		}
		return r.query(ctx, rest)
	case "ask":
		if rest == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		return r.ask(ctx, rest)
	case "chat":
		return r.repl(ctx)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func (r *runner) simple(ctx context.Context, method, path string) int {
	code, body, err := r.do(ctx, method, path, nil)
	if err != nil {
		return r.fail(err)
	}
	if code >= 400 {
		return r.httpFailure(code, body)
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
	} else if len(body) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(body))
	}
	return 0
}

func (r *runner) schema(ctx context.Context) int {
	code, body, err := r.do(ctx, http.MethodGet, "/api/schema", nil)
	if err != nil {
		return r.fail(err)
	}
	if code >= 400 {
		return r.httpFailure(code, body)
	}
	if r.output == "json" {
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return 0
	}

	var schema struct {
		Tables []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Columns     []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"tables"`
		JoinKey string `json:"join_key"`
	}
	if err := json.Unmarshal(body, &schema); err != nil {
		return r.fail(fmt.Errorf("decode schema: %w", err))
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Columns", "Description"})
	for _, tbl := range schema.Tables {
		t.AppendRow(table.Row{tbl.Name, len(tbl.Columns), tbl.Description})
	}
	t.Render()
	_, _ = fmt.Fprintf(r.stdout, "join key: %s\n", schema.JoinKey)
	return 0
}

func (r *runner) query(ctx context.Context, sqlText string) int {
	payload, _ := json.Marshal(map[string]string{"sql": sqlText})
	code, body, err := r.do(ctx, http.MethodPost, "/api/query", payload)
	if err != nil {
		return r.fail(err)
	}
	if code >= 400 {
		return r.httpFailure(code, body)
	}

	var response struct {
		Columns   []string `json:"columns"`
		Rows      [][]any  `json:"rows"`
		Truncated bool     `json:"truncated"`
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&response); err != nil {
		return r.fail(fmt.Errorf("decode query response: %w", err))
	}

	switch r.output {
	case "json":
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(r.stdout, pretty)
	case "csv":
		_, _ = fmt.Fprintln(r.stdout, query.FormatCSV(query.Result{Columns: response.Columns, Rows: response.Rows}))
	default:
		renderTable(r.stdout, response.Columns, response.Rows)
	}
	if response.Truncated {
		_, _ = fmt.Fprintln(r.stderr, "(rows truncated by server)")
	}
	return 0
}

type chatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Steps     []struct {
		Tool      string          `json:"tool"`
		Input     json.RawMessage `json:"input"`
		ErrorKind string          `json:"error_kind"`
	} `json:"steps"`
}

func (r *runner) ask(ctx context.Context, message string) int {
	reply, code := r.send(ctx, message, nil)
	if code != 0 {
		return code
	}
	_, _ = fmt.Fprintln(r.stdout, reply.Response)
	if r.sessionID == "" && reply.SessionID != "" {
		_, _ = fmt.Fprintf(r.stderr, "session: %s\n", reply.SessionID)
	}
	return 0
}

// repl keeps the history on the client and sends it with every message.
func (r *runner) repl(ctx context.Context) int {
	_, _ = fmt.Fprintln(r.stdout, "AutoQuery chat. Type 'exit' to quit.")
	scanner := bufio.NewScanner(r.stdin)
	var history []chat.Turn
	for {
		_, _ = fmt.Fprint(r.stdout, "You: ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(r.stdout)
			return 0
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return 0
		}

		reply, code := r.send(ctx, line, history)
		if code != 0 {
			if ctx.Err() != nil {
				return code
			}
			continue
		}
		_, _ = fmt.Fprintf(r.stdout, "Agent: %s\n", reply.Response)
		history = chat.Bound(append(history, chat.Turn{User: line, Assistant: reply.Response}), chat.DefaultMaxTurns)
	}
}

func (r *runner) send(ctx context.Context, message string, history []chat.Turn) (chatReply, int) {
	request := map[string]any{"message": message}
	if r.sessionID != "" {
		request["session_id"] = r.sessionID
	}
	if history != nil {
		request["history"] = history
	}
	payload, _ := json.Marshal(request)
	code, body, err := r.do(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		return chatReply{}, r.fail(err)
	}
	if code >= 400 {
		return chatReply{}, r.httpFailure(code, body)
	}
	var reply chatReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return chatReply{}, r.fail(fmt.Errorf("decode chat response: %w", err))
	}
	if r.showSteps {
		for i, step := range reply.Steps {
			kind := step.ErrorKind
			if kind == "" {
				kind = "ok"
			}
			_, _ = fmt.Fprintf(r.stderr, "step %d: %s %s [%s]\n", i+1, step.Tool, string(step.Input), kind)
		}
	}
	return reply, 0
}

func (r *runner) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	return doRequest(ctx, r.client, method, r.baseURL+path, r.apiKey, payload)
}

func (r *runner) fail(err error) int {
	_, _ = fmt.Fprintf(r.stderr, "request failed: %v\n", err)
	return 1
}

func (r *runner) httpFailure(code int, body []byte) int {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", code, payload.Error)
		return 1
	}
	_, _ = fmt.Fprintf(r.stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
	return 1
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func renderTable(w io.Writer, columns []string, rows [][]any) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	t.AppendHeader(header)
	for _, row := range rows {
		cells := make(table.Row, len(row))
		for i, value := range row {
			cells[i] = formatCell(value)
		}
		t.AppendRow(cells)
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func formatCell(value any) string {
	if value == nil {
		return "NULL"
	}
	return query.FormatValue(query.NormalizeValue(value))
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
	_, _ = fmt.Fprintln(w, "usage: autoqueryctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health            GET /health")
	_, _ = fmt.Fprintln(w, "  schema            GET /api/schema")
	_, _ = fmt.Fprintln(w, "  query <sql>       POST /api/query")
	_, _ = fmt.Fprintln(w, "  ask <question>    POST /api/chat")
	_, _ = fmt.Fprintln(w, "  chat              interactive chat, history kept locally")
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
