// Command guardian-replay drives a running guardian server through a scripted
// conversation over the session WebSocket and reports reply latency and the
// escalation path taken.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/guardian/internal/audio"
	"github.com/ent0n29/guardian/internal/protocol"
)

type options struct {
	baseURL     string
	userID      string
	mode        string
	confirm     string
	turns       int
	wavPath     string
	interTurn   time.Duration
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type          string `json:"type"`
	Code          string `json:"code,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Reply         string `json:"reply,omitempty"`
	State         string `json:"state,omitempty"`
	Ignored       bool   `json:"ignored,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Message       string `json:"message,omitempty"`
	RequiresReply bool   `json:"requires_reply,omitempty"`
	ContactLabel  string `json:"contact_label,omitempty"`
	Verdict       *struct {
		Risk   string `json:"Risk"`
		Action string `json:"Action"`
	} `json:"verdict,omitempty"`
}

type report struct {
	latencies     []time.Duration
	actions       map[string]int
	prompts       int
	notifications int
	errors        int
}

var defaultScript = []string{
	"Hi, I'm walking home from the station.",
	"It's getting dark and the street is empty.",
	"I think a stranger is following me, I'm scared.",
	"He's still behind me and won't stop.",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian-replay: %v\n", err)
		os.Exit(2)
	}
	rep, err := run(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian-replay: %v\n", err)
		os.Exit(1)
	}
	rep.print(os.Stdout)
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("guardian-replay", flag.ContinueOnError)
	var cfg options
	var textsRaw string
	var interTurnMS, turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "guardian base URL")
	fs.StringVar(&cfg.userID, "user-id", "replay", "user_id for the replay session")
	fs.StringVar(&cfg.mode, "mode", "assistive", "escalation mode: assistive or autonomous")
	fs.StringVar(&cfg.confirm, "confirm", "no", "answer to confirmation prompts: yes, no or skip")
	fs.IntVar(&cfg.turns, "turns", 0, "number of turns to send (default: one pass over the script)")
	fs.StringVar(&cfg.wavPath, "wav", "", "optional WAV file sent as client_audio before the script")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 200, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 120000, "timeout waiting for guardian_reply per turn in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	switch cfg.confirm {
	case "yes", "no", "skip":
	default:
		return options{}, fmt.Errorf("confirm must be yes, no or skip")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurn = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultScript...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	if cfg.turns <= 0 {
		cfg.turns = len(cfg.texts)
	}
	return cfg, nil
}

func run(cfg options) (*report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()
	if cfg.verbose {
		fmt.Printf("guardian-replay: session=%s mode=%s turns=%d confirm=%s\n", sessionID, cfg.mode, cfg.turns, cfg.confirm)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	inbound := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, inbound, readErrCh)

	rep := &report{actions: make(map[string]int)}

	if cfg.wavPath != "" {
		msg, err := audioMessage(sessionID, cfg.wavPath)
		if err != nil {
			return nil, err
		}
		if err := rep.turn(conn, msg, "[audio] "+cfg.wavPath, sessionID, cfg, inbound, readErrCh); err != nil {
			return nil, err
		}
	}

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		msg := protocol.ClientText{Type: protocol.TypeClientText, SessionID: sessionID, Text: text}
		if err := rep.turn(conn, msg, text, sessionID, cfg, inbound, readErrCh); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i+1, err)
		}
		if cfg.interTurn > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurn)
		}
	}
	return rep, nil
}

// turn sends one message, waits for the reply and answers any prompt that
// follows it according to cfg.confirm.
func (r *report) turn(conn *websocket.Conn, msg any, label, sessionID string, cfg options, inbound <-chan wsEnvelope, readErrCh <-chan error) error {
	if cfg.verbose {
		fmt.Printf("> %s\n", label)
	}
	start := time.Now()
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	reply, err := await(inbound, readErrCh, cfg.turnTimeout, protocol.TypeGuardianReply)
	if err != nil {
		return err
	}
	r.latencies = append(r.latencies, time.Since(start))
	if reply.Verdict != nil {
		r.actions[reply.Verdict.Action]++
	} else {
		r.actions["none"]++
	}
	if cfg.verbose {
		fmt.Printf("< %s [state=%s]\n", firstLine(reply.Reply), reply.State)
	}

	pending := reply.State == "nudge_pending" || reply.State == "emergency_pending"
	if !pending || reply.Ignored {
		return r.drain(inbound, cfg.verbose)
	}
	prompt, err := await(inbound, readErrCh, cfg.turnTimeout, protocol.TypeEscalationEvent)
	if err != nil {
		return err
	}
	r.prompts++
	if cfg.verbose {
		fmt.Printf("! %s\n", prompt.Message)
	}
	if cfg.confirm == "skip" {
		return nil
	}
	if err := conn.WriteJSON(protocol.ClientConfirm{Type: protocol.TypeClientConfirm, SessionID: sessionID, Choice: cfg.confirm}); err != nil {
		return err
	}
	outcome, err := await(inbound, readErrCh, cfg.turnTimeout, protocol.TypeEscalationEvent)
	if err != nil {
		return err
	}
	if cfg.verbose {
		fmt.Printf("! %s\n", firstLine(outcome.Message))
	}
	// Notifications trail the escalation event.
	time.Sleep(50 * time.Millisecond)
	return r.drain(inbound, cfg.verbose)
}

func (r *report) drain(inbound <-chan wsEnvelope, verbose bool) error {
	for {
		select {
		case env := <-inbound:
			r.observe(env, verbose)
		default:
			return nil
		}
	}
}

func (r *report) observe(env wsEnvelope, verbose bool) {
	switch env.Type {
	case string(protocol.TypeNotificationSent):
		r.notifications++
		if verbose {
			fmt.Printf("  notified %s\n", env.ContactLabel)
		}
	case string(protocol.TypeErrorEvent):
		r.errors++
		if verbose {
			fmt.Fprintf(os.Stderr, "guardian-replay: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
	}
}

func await(inbound <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration, want protocol.MessageType) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-inbound:
			if env.Type == string(want) {
				return env, nil
			}
			if env.Type == string(protocol.TypeErrorEvent) {
				return wsEnvelope{}, fmt.Errorf("server error %s: %s", env.Code, env.Detail)
			}
		case err := <-readErrCh:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout after %s waiting for %s", timeout, want)
		}
	}
}

func (r *report) print(out io.Writer) {
	fmt.Fprintf(out, "turns=%d prompts=%d notifications=%d errors=%d\n", len(r.latencies), r.prompts, r.notifications, r.errors)
	if len(r.latencies) > 0 {
		fmt.Fprintf(out, "reply latency p50=%s p95=%s max=%s\n",
			percentile(r.latencies, 0.50), percentile(r.latencies, 0.95), percentile(r.latencies, 1))
	}
	keys := make([]string, 0, len(r.actions))
	for k := range r.actions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "action %q: %d\n", k, r.actions[k])
	}
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func audioMessage(sessionID, path string) (protocol.ClientAudio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.ClientAudio{}, fmt.Errorf("read wav: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return protocol.ClientAudio{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(pcm) > audio.MaxClipBytes {
		return protocol.ClientAudio{}, fmt.Errorf("%s is longer than %s", path, audio.ClipDuration(audio.MaxClipBytes, audio.DefaultSampleRate))
	}
	return protocol.ClientAudio{
		Type:        protocol.TypeClientAudio,
		SessionID:   sessionID,
		PCM16Base64: base64.StdEncoding.EncodeToString(pcm),
		SampleRate:  rate,
	}, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID, Mode: cfg.mode})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
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
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, inbound chan<- wsEnvelope, readErrCh chan<- error) {
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
		inbound <- env
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
