package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"aichat/internal/domain"
)

const conversationColumns = "id, name, created_at, updated_at, model, provider, message_count, last_message_at"

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		c                domain.Conversation
		created, updated int64
		last             sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Name, &created, &updated, &c.Model, &c.Provider, &c.MessageCount, &last); err != nil {
		return nil, err
	}
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	if last.Valid {
		t := fromNanos(last.Int64)
		c.LastMessageAt = &t
	}
	return &c, nil
}

func insertConversation(ctx context.Context, q queryer, c *domain.Conversation) error {
	var last sql.NullInt64
	if c.LastMessageAt != nil {
		last = sql.NullInt64{Int64: toNanos(*c.LastMessageAt), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO conversations ("+conversationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.Name, toNanos(c.CreatedAt), toNanos(c.UpdatedAt), c.Model, c.Provider, c.MessageCount, last,
	)
	return err
}

// CreateConversation inserts conv with zeroed aggregates.
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	const op = "sqlite.CreateConversation"
	if conv.ID == "" {
		return fmt.Errorf("%s: %w: conversation id is required", op, domain.ErrValidation)
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		dup, err := exists(ctx, tx, "SELECT 1 FROM conversations WHERE id = ?", conv.ID)
		if err != nil {
			return persistErr(op, err)
		}
		if dup {
			return fmt.Errorf("%s: conversation %q: %w", op, conv.ID, domain.ErrDuplicate)
		}
		conv.MessageCount, conv.LastMessageAt = 0, nil
		if err := insertConversation(ctx, tx, conv); err != nil {
			return persistErr(op, err)
		}
		return nil
	})
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	const op = "sqlite.GetConversation"
	row := s.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, notFound(op, "conversation", id)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return c, nil
}

// ListConversations orders by last activity, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	const op = "sqlite.ListConversations"
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations ORDER BY COALESCE(last_message_at, updated_at) DESC, id DESC")
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	out := []domain.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return out, nil
}

func (s *Store) UpdateConversation(ctx context.Context, id string, patch domain.ConversationPatch) error {
	const op = "sqlite.UpdateConversation"
	sets := []string{"updated_at = ?"}
	args := []any{toNanos(s.now())}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Model != nil {
		sets = append(sets, "model = ?")
		args = append(args, *patch.Model)
	}
	if patch.Provider != nil {
		sets = append(sets, "provider = ?")
		args = append(args, *patch.Provider)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return persistErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, "conversation", id)
	}
	return nil
}

// DeleteConversation removes the conversation and its messages together.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	const op = "sqlite.DeleteConversation"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		// Explicit delete so the cascade does not depend on the foreign_keys pragma.
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
			return persistErr(op, err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
		if err != nil {
			return persistErr(op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(op, "conversation", id)
		}
		return nil
	})
}

func (s *Store) RecomputeConversation(ctx context.Context, id string) error {
	const op = "sqlite.RecomputeConversation"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "SELECT 1 FROM conversations WHERE id = ?", id)
		if err != nil {
			return persistErr(op, err)
		}
		if !ok {
			return notFound(op, "conversation", id)
		}
		if err := s.recompute(ctx, tx, id); err != nil {
			return persistErr(op, err)
		}
		return nil
	})
}
