package httpapi

import (
	"context"

	"go.uber.org/zap"

	"github.com/ent0n29/ridewallet/internal/protocol"
	"github.com/ent0n29/ridewallet/internal/session"
	"github.com/ent0n29/ridewallet/internal/tools"
)

// runConnection serves one websocket. Messages are handled in arrival order
// and a tool call finishes before the next one starts. It returns once the
// session is no longer active, after telling the client why.
func (s *Server) runConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) {
	send := func(msg any) bool {
		select {
		case outbound <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(protocol.SessionGreeting{
		Type:         protocol.TypeSessionGreeting,
		SessionID:    sess.ID,
		Username:     sess.Username,
		Instructions: sess.Agent.Instructions(),
		Greeting:     sess.Agent.OnEnter(ctx),
		Tools:        sess.Agent.Tools(),
	}) {
		return
	}

	for msg := range inbound {
		switch m := msg.(type) {
		case protocol.ToolCall:
			if m.SessionID != sess.ID {
				if !send(sessionMismatch(sess.ID, m.SessionID)) {
					return
				}
				continue
			}
			res, err := s.runTool(ctx, sess, tools.Call{ID: m.CallID, Name: m.Name, Arguments: m.Arguments})
			if err != nil {
				s.logger.Info("tool call on inactive session", zap.String("session_id", sess.ID), zap.Error(err))
				send(sessionEnded(sess.ID, err))
				return
			}
			if !send(protocol.ToolResult{Type: protocol.TypeToolResult, SessionID: sess.ID, Result: res}) {
				return
			}
		case protocol.AuthUpdate:
			if m.SessionID != sess.ID {
				if !send(sessionMismatch(sess.ID, m.SessionID)) {
					return
				}
				continue
			}
			if _, err := s.sessions.Active(sess.ID); err != nil {
				send(sessionEnded(sess.ID, err))
				return
			}
			if err := sess.Agent.RotateAuth(m.AuthKey); err != nil {
				s.logger.Warn("auth update rejected", zap.String("session_id", sess.ID), zap.Error(err))
				continue
			}
			_ = s.sessions.Touch(sess.ID)
		case protocol.ErrorEvent:
			if !send(m) {
				return
			}
		}
	}
}

func sessionEnded(id string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: id,
		Code:      "session_ended",
		Source:    "gateway",
		Detail:    err.Error(),
	}
}

func sessionMismatch(want, got string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: want,
		Code:      "session_mismatch",
		Source:    "gateway",
		Detail:    "message addressed to session " + got,
	}
}
