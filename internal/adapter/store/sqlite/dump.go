package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"aichat/internal/domain"
)

// aggregateSQL refreshes derived fields without touching updated_at, so an
// imported conversation keeps its original activity time.
const aggregateSQL = `
	UPDATE conversations SET
		message_count   = (SELECT COUNT(*) FROM messages WHERE conversation_id = ?),
		last_message_at = (SELECT MAX(ts) FROM messages WHERE conversation_id = ?)
	WHERE id = ?`

func (s *Store) Export(ctx context.Context) (*domain.Dump, error) {
	convs, err := s.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.queryMessages(ctx, "sqlite.Export", "SELECT "+messageColumns+" FROM messages ORDER BY ts, id")
	if err != nil {
		return nil, err
	}
	return &domain.Dump{
		Conversations: convs,
		Messages:      msgs,
		ExportedAt:    s.now(),
		Version:       domain.DumpVersion,
	}, nil
}

// Import adds every record of dump in one transaction. Existing IDs and
// messages without a conversation abort the import.
func (s *Store) Import(ctx context.Context, dump *domain.Dump) error {
	const op = "sqlite.Import"
	if err := domain.ValidateDump(dump); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		touched := make(map[string]bool)
		for i := range dump.Conversations {
			c := &dump.Conversations[i]
			dup, err := exists(ctx, tx, "SELECT 1 FROM conversations WHERE id = ?", c.ID)
			if err != nil {
				return persistErr(op, err)
			}
			if dup {
				return fmt.Errorf("%s: conversation %q: %w", op, c.ID, domain.ErrDuplicate)
			}
			if err := insertConversation(ctx, tx, c); err != nil {
				return persistErr(op, err)
			}
			touched[c.ID] = true
		}
		for i := range dump.Messages {
			m := &dump.Messages[i]
			ok, err := exists(ctx, tx, "SELECT 1 FROM conversations WHERE id = ?", m.ConversationID)
			if err != nil {
				return persistErr(op, err)
			}
			if !ok {
				return notFound(op, "conversation", m.ConversationID)
			}
			dup, err := exists(ctx, tx, "SELECT 1 FROM messages WHERE id = ?", m.ID)
			if err != nil {
				return persistErr(op, err)
			}
			if dup {
				return fmt.Errorf("%s: message %q: %w", op, m.ID, domain.ErrDuplicate)
			}
			if err := insertMessage(ctx, tx, m); err != nil {
				return persistErr(op, err)
			}
			touched[m.ConversationID] = true
		}
		for id := range touched {
			if _, err := tx.ExecContext(ctx, aggregateSQL, id, id, id); err != nil {
				return persistErr(op, err)
			}
		}
		return nil
	})
}

// ClearAll deletes every conversation and message. Saved state is kept.
func (s *Store) ClearAll(ctx context.Context) error {
	const op = "sqlite.ClearAll"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
			return persistErr(op, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
			return persistErr(op, err)
		}
		return nil
	})
}

func (s *Store) Stats(ctx context.Context) (domain.StoreStats, error) {
	dump, err := s.Export(ctx)
	if err != nil {
		return domain.StoreStats{}, err
	}
	size, err := domain.DumpSize(dump.Conversations, dump.Messages)
	if err != nil {
		return domain.StoreStats{}, err
	}
	return domain.StoreStats{
		ConversationCount: len(dump.Conversations),
		MessageCount:      len(dump.Messages),
		TotalSize:         size,
	}, nil
}
