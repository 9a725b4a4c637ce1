package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/acolyte/internal/protocol"
)

type options struct {
	baseURL     string
	start       bool
	stopOnExit  bool
	texts       []string
	turnTimeout time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type      string          `json:"type"`
	State     string          `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	Direction string          `json:"direction,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Code      string          `json:"code,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "consolectl: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "consolectl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "acolyte base URL")
	fs.BoolVar(&cfg.start, "start", true, "start the realtime session before sending")
	fs.BoolVar(&cfg.stopOnExit, "stop", false, "stop the realtime session on exit")
	fs.StringVar(&textsRaw, "texts", "", "messages separated by '|'; reads stdin lines when empty")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for an assistant entry per message in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print raw protocol events")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) != "" {
		cfg.texts = splitTexts(textsRaw)
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options, stdin io.Reader, stdout io.Writer) error {
	ctx := context.Background()
	httpClient := &http.Client{Timeout: 45 * time.Second}

	if cfg.start {
		if err := post(ctx, httpClient, cfg.baseURL+"/v1/session/start"); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}
	if cfg.stopOnExit {
		defer func() {
			_ = post(context.Background(), httpClient, cfg.baseURL+"/v1/session/stop")
		}()
	}

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	answers := make(chan struct{}, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, stdout, answers, readErrCh, cfg.verbose)

	send := func(text string) error {
		if err := conn.WriteJSON(protocol.UserText{Type: protocol.TypeUserText, Text: text}); err != nil {
			return err
		}
		return awaitAnswer(answers, readErrCh, cfg.turnTimeout)
	}

	if len(cfg.texts) > 0 {
		for i, text := range cfg.texts {
			if err := send(text); err != nil {
				return fmt.Errorf("message %d: %w", i+1, err)
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if err := conn.WriteJSON(protocol.Activity{Type: protocol.TypeActivity, Source: "keyboard"}); err != nil {
			return fmt.Errorf("send activity: %w", err)
		}
		if line == "" {
			continue
		}
		if err := send(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func post(ctx context.Context, client *http.Client, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/session/ws"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, out io.Writer, answers chan<- struct{}, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if line, ok := formatMessage(env, verbose); ok {
			fmt.Fprintln(out, line)
		}
		if env.Type == string(protocol.TypeEntry) && env.Role == "assistant" {
			select {
			case answers <- struct{}{}:
			default:
			}
		}
	}
}

// formatMessage renders one pushed message for the terminal.
func formatMessage(env wsEnvelope, verbose bool) (string, bool) {
	switch env.Type {
	case string(protocol.TypeState):
		if env.Error != "" {
			return fmt.Sprintf("[%s] %s", env.State, env.Error), true
		}
		return fmt.Sprintf("[%s]", env.State), true
	case string(protocol.TypeEntry):
		return fmt.Sprintf("%s: %s", env.Role, env.Content), true
	case string(protocol.TypeErrorEvent):
		return fmt.Sprintf("error %s: %s", env.Code, env.Detail), true
	case string(protocol.TypeEvent):
		if !verbose {
			return "", false
		}
		return fmt.Sprintf("%s %s", env.Direction, string(env.Event)), true
	default:
		return "", false
	}
}

func awaitAnswer(answers <-chan struct{}, readErrCh <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-answers:
		return nil
	case err := <-readErrCh:
		return fmt.Errorf("ws read: %w", err)
	case <-timer.C:
		return fmt.Errorf("timed out after %s waiting for assistant entry", timeout)
	}
}
