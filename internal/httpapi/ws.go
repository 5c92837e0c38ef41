package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/guardian/internal/audio"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/guardian"
	"github.com/ent0n29/guardian/internal/monitor"
	"github.com/ent0n29/guardian/internal/protocol"
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Active(sessionID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.sessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		s.runConnection(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.wsMessage("outbound", t)
				}
			}
		}
	}()

	conn.SetReadLimit(4 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case outbound <- errorEvent(sessionID, "invalid_client_message", "gateway", false, err):
			default:
				// Keep websocket writes single-threaded; drop if the queue is saturated.
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.wsMessage("inbound", t)
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.sessionEvent("ws_disconnected")
}

// runConnection handles client messages one at a time so a session's turns
// and confirmations keep their arrival order.
func (s *Server) runConnection(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	state, _ := s.monitor.State(sessionID)
	if !send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "session_ready",
		Detail:    string(state),
	}) {
		return
	}

	for msg := range inbound {
		if ctx.Err() != nil {
			return
		}
		for _, out := range s.handleClientMessage(ctx, sessionID, msg) {
			if !send(out) {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(ctx context.Context, sessionID string, msg any) []any {
	switch m := msg.(type) {
	case protocol.ClientText:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		out, err := s.monitor.SubmitText(ctx, sessionID, m.Text)
		return s.turnMessages(sessionID, out, err)

	case protocol.ClientAudio:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		pcm, err := audio.DecodePCM16Base64(m.PCM16Base64)
		if err != nil {
			return []any{errorEvent(sessionID, "invalid_audio", "gateway", false, err)}
		}
		if len(pcm) > audio.MaxClipBytes {
			return []any{errorEvent(sessionID, "audio_too_long", "gateway", false,
				errors.New("audio clip exceeds the maximum length"))}
		}
		out, err := s.monitor.SubmitPCM(ctx, sessionID, pcm, m.SampleRate)
		return s.turnMessages(sessionID, out, err)

	case protocol.ClientConfirm:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		choice, err := escalation.ParseChoice(m.Choice)
		if err != nil {
			return []any{errorEvent(sessionID, "invalid_choice", "gateway", false, err)}
		}
		step, err := s.monitor.Confirm(ctx, sessionID, choice)
		if err != nil {
			_, code := classify(err)
			return []any{errorEvent(sessionID, code, "escalation", false, err)}
		}
		return protocol.StepMessages(sessionID, step)

	case protocol.ClientMode:
		if m.SessionID != sessionID {
			return []any{sessionMismatch(sessionID)}
		}
		mode, err := escalation.ParseMode(m.Mode)
		if err != nil {
			return []any{errorEvent(sessionID, "invalid_mode", "gateway", false, err)}
		}
		if err := s.monitor.SetMode(sessionID, mode); err != nil {
			_, code := classify(err)
			return []any{errorEvent(sessionID, code, "gateway", false, err)}
		}
		return []any{protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "mode_changed",
			Detail:    string(mode),
		}}
	}
	return nil
}

func (s *Server) turnMessages(sessionID string, out monitor.TurnOutcome, err error) []any {
	if err != nil {
		_, code := classify(err)
		return []any{errorEvent(sessionID, code, "guardian", errors.Is(err, guardian.ErrBackendUnavailable), err)}
	}
	msgs := []any{protocol.GuardianReply{
		Type:      protocol.TypeGuardianReply,
		SessionID: sessionID,
		Input:     out.Input,
		Reply:     out.Reply,
		Verdict:   out.Verdict,
		State:     out.Step.To,
		Ignored:   out.Step.Ignored,
	}}
	return append(msgs, protocol.StepMessages(sessionID, out.Step)...)
}

func errorEvent(sessionID, code, source string, retryable bool, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    err.Error(),
	}
}

func sessionMismatch(sessionID string) protocol.ErrorEvent {
	return errorEvent(sessionID, "session_mismatch", "gateway", false,
		errors.New("message session_id does not match the connection"))
}

func (s *Server) sessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Server) wsMessage(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientAudio:
		return m.Type, true
	case protocol.ClientConfirm:
		return m.Type, true
	case protocol.ClientMode:
		return m.Type, true
	case protocol.GuardianReply:
		return m.Type, true
	case protocol.EscalationEvent:
		return m.Type, true
	case protocol.NotificationSent:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
