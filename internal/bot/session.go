package bot

import (
	"context"
	"fmt"
	"time"

	"salesbot/internal/ai"
)

// SessionStore persists conversation history between turns.
type SessionStore interface {
	GetSession(ctx context.Context, sessionKey string, dest interface{}) (bool, error)
	SaveSession(ctx context.Context, sessionKey string, value interface{}, ttl time.Duration) error
}

// Session is the rolling conversation history for one customer. The system
// prompt is rebuilt on every turn and never stored.
type Session struct {
	Messages []ai.ChatMessage `json:"messages"`
}

// sessionKey scopes history per tenant and conversation. Widget callers may
// supply an explicit session id; provider channels derive one from the sender.
func sessionKey(tenantID, channel, sender, explicitID string) string {
	if explicitID != "" {
		return fmt.Sprintf("%s:%s", tenantID, explicitID)
	}
	return fmt.Sprintf("%s:%s_%s", tenantID, channel, sender)
}

// trim keeps the most recent window messages. A tool result whose requesting
// assistant message fell off the window confuses the completion service, so
// leading orphaned tool messages are dropped too.
func (s *Session) trim(window int) {
	if window <= 0 || len(s.Messages) <= window {
		return
	}
	s.Messages = s.Messages[len(s.Messages)-window:]
	for len(s.Messages) > 0 && s.Messages[0].Role == ai.RoleTool {
		s.Messages = s.Messages[1:]
	}
}
