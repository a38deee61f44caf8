package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"aichat/internal/domain"
)

const messageColumns = "id, conversation_id, role, content, loading, images, ts, model, provider, error, seq"

const recomputeSQL = `
	UPDATE conversations SET
		message_count   = (SELECT COUNT(*) FROM messages WHERE conversation_id = ?),
		last_message_at = (SELECT MAX(ts) FROM messages WHERE conversation_id = ?),
		updated_at      = ?
	WHERE id = ?`

// recompute refreshes a conversation's derived fields inside tx.
func (s *Store) recompute(ctx context.Context, q queryer, id string) error {
	_, err := q.ExecContext(ctx, recomputeSQL, id, id, toNanos(s.now()), id)
	return err
}

// bodyColumns flattens a MessageBody into its stored columns.
func bodyColumns(b domain.MessageBody) (content string, loading bool, images string, err error) {
	if b == nil {
		return "", false, "", nil
	}
	if imgs := domain.BodyImages(b); len(imgs) > 0 {
		data, err := json.Marshal(imgs)
		if err != nil {
			return "", false, "", fmt.Errorf("marshal images: %w", err)
		}
		images = string(data)
	}
	return b.Text(), b.Loading(), images, nil
}

// bodyFromColumns resolves the stored columns into a concrete body variant.
func bodyFromColumns(content string, loading bool, images string) (domain.MessageBody, error) {
	switch {
	case loading:
		return domain.Streaming{Partial: content}, nil
	case images != "":
		var imgs []domain.Image
		if err := json.Unmarshal([]byte(images), &imgs); err != nil {
			return nil, fmt.Errorf("unmarshal images: %w", err)
		}
		return domain.WithImages{Content: content, Images: imgs}, nil
	default:
		return domain.PlainText{Content: content}, nil
	}
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		m       domain.Message
		content string
		loading bool
		images  string
		ts      int64
		seq     int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &content, &loading, &images, &ts, &m.Model, &m.Provider, &m.Error, &seq); err != nil {
		return nil, err
	}
	body, err := bodyFromColumns(content, loading, images)
	if err != nil {
		return nil, fmt.Errorf("message %q: %w", m.ID, err)
	}
	m.Body = body
	m.Timestamp = fromNanos(ts)
	m.Seq = uint64(seq)
	return &m, nil
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return out, nil
}

func insertMessage(ctx context.Context, q queryer, m *domain.Message) error {
	content, loading, images, err := bodyColumns(m.Body)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.ConversationID, m.Role, content, loading, images,
		toNanos(m.Timestamp), m.Model, m.Provider, m.Error, int64(m.Seq),
	)
	return err
}

// AddMessage inserts msg and recomputes its conversation in one transaction.
func (s *Store) AddMessage(ctx context.Context, msg *domain.Message) error {
	const op = "sqlite.AddMessage"
	if msg.ID == "" || msg.ConversationID == "" {
		return fmt.Errorf("%s: %w: message id and conversation id are required", op, domain.ErrValidation)
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "SELECT 1 FROM conversations WHERE id = ?", msg.ConversationID)
		if err != nil {
			return persistErr(op, err)
		}
		if !ok {
			return notFound(op, "conversation", msg.ConversationID)
		}
		dup, err := exists(ctx, tx, "SELECT 1 FROM messages WHERE id = ?", msg.ID)
		if err != nil {
			return persistErr(op, err)
		}
		if dup {
			return fmt.Errorf("%s: message %q: %w", op, msg.ID, domain.ErrDuplicate)
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return persistErr(op, err)
		}
		if err := s.recompute(ctx, tx, msg.ConversationID); err != nil {
			return persistErr(op, err)
		}
		return nil
	})
}

// UpdateMessage applies u only when u.Seq is newer than the stored sequence,
// so late intermediate writes never overwrite a later one.
func (s *Store) UpdateMessage(ctx context.Context, u domain.MessageUpdate) (bool, error) {
	const op = "sqlite.UpdateMessage"
	content, loading, images, err := bodyColumns(u.Body)
	if err != nil {
		return false, persistErr(op, err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET content = ?, loading = ?, images = ?, error = ?, seq = ? WHERE id = ? AND seq < ?",
		content, loading, images, u.Error, int64(u.Seq), u.ID, int64(u.Seq),
	)
	if err != nil {
		return false, persistErr(op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	ok, err := exists(ctx, s.db, "SELECT 1 FROM messages WHERE id = ?", u.ID)
	if err != nil {
		return false, persistErr(op, err)
	}
	if !ok {
		return false, notFound(op, "message", u.ID)
	}
	return false, nil
}

// DeleteMessage removes a message and recomputes its conversation.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	const op = "sqlite.DeleteMessage"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		var convID string
		err := tx.QueryRowContext(ctx, "SELECT conversation_id FROM messages WHERE id = ?", id).Scan(&convID)
		if err == sql.ErrNoRows {
			return notFound(op, "message", id)
		}
		if err != nil {
			return persistErr(op, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
			return persistErr(op, err)
		}
		if err := s.recompute(ctx, tx, convID); err != nil {
			return persistErr(op, err)
		}
		return nil
	})
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	const op = "sqlite.GetMessage"
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, notFound(op, "message", id)
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return s.queryMessages(ctx, "sqlite.ListMessages",
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY ts, id",
		conversationID)
}

func (s *Store) ListMessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	return s.queryMessages(ctx, "sqlite.ListMessagesPage",
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY ts, id LIMIT ? OFFSET ?",
		conversationID, limit, max(offset, 0))
}

func (s *Store) LatestMessages(ctx context.Context, conversationID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		return []domain.Message{}, nil
	}
	msgs, err := s.queryMessages(ctx, "sqlite.LatestMessages",
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY ts DESC, id DESC LIMIT ?",
		conversationID, n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// SearchMessages matches content case-insensitively. An empty conversationID
// searches every conversation.
func (s *Store) SearchMessages(ctx context.Context, conversationID, query string) ([]domain.Message, error) {
	const op = "sqlite.SearchMessages"
	if conversationID == "" {
		return s.queryMessages(ctx, op,
			"SELECT "+messageColumns+" FROM messages WHERE instr(lower(content), lower(?)) > 0 ORDER BY ts, id",
			query)
	}
	return s.queryMessages(ctx, op,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? AND instr(lower(content), lower(?)) > 0 ORDER BY ts, id",
		conversationID, query)
}

// ClearConversation deletes every message of a conversation but keeps it.
func (s *Store) ClearConversation(ctx context.Context, conversationID string) error {
	const op = "sqlite.ClearConversation"
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "SELECT 1 FROM conversations WHERE id = ?", conversationID)
		if err != nil {
			return persistErr(op, err)
		}
		if !ok {
			return notFound(op, "conversation", conversationID)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
			return persistErr(op, err)
		}
		if err := s.recompute(ctx, tx, conversationID); err != nil {
			return persistErr(op, err)
		}
		return nil
	})
}
