package store

import (
	"context"

	"salesbot/internal/models"
)

// AppendChatLog inserts one user/bot exchange. Append-only.
func (s *Store) AppendChatLog(ctx context.Context, entry *models.ChatLog) error {
	query := `
		INSERT INTO chat_logs (tenant_id, channel, sender, user_message, bot_reply, intent, payment_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, entry, query,
		entry.TenantID, entry.Channel, entry.Sender,
		entry.UserMessage, entry.BotReply, entry.Intent, entry.PaymentLink)
}

// CountChatLogs counts prior exchanges for (tenant, channel, sender). Zero means
// this is the sender's first message.
func (s *Store) CountChatLogs(ctx context.Context, tenantID, channel, sender string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM chat_logs WHERE tenant_id = $1 AND channel = $2 AND sender = $3",
		tenantID, channel, sender)
	return count, err
}

// RecordOwnerAlert stores the first-contact alert row.
func (s *Store) RecordOwnerAlert(ctx context.Context, tenantID, channel, sender string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_alerts (tenant_id, channel, sender)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, channel, sender) DO NOTHING`,
		tenantID, channel, sender)
	return err
}
