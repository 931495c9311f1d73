package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/store"
)

func (d *DB) GetMessagesByTopic(ctx context.Context, topicID string) ([]*store.MessageRecord, error) {
	if err := d.topicExists(ctx, topicID); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, topic_id, role, content, tokens_used, created_ts, updated_ts
		FROM message
		WHERE topic_id = ?
		ORDER BY created_ts ASC, rowid ASC`,
		topicID,
	)
	if err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to query messages: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	list := make([]*store.MessageRecord, 0)
	for rows.Next() {
		var msg store.MessageRecord
		var createdTs, updatedTs int64
		if err := rows.Scan(
			&msg.ID,
			&msg.TopicID,
			&msg.Role,
			&msg.Content,
			&msg.TokensUsed,
			&createdTs,
			&updatedTs,
		); err != nil {
			return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to scan message: %v", err)
		}
		msg.CreatedAt = time.Unix(createdTs, 0)
		msg.UpdatedAt = time.Unix(updatedTs, 0)
		list = append(list, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to iterate messages: %v", err)
	}

	return list, nil
}

func (d *DB) AddMessage(ctx context.Context, req store.AddMessageRequest) (*store.MessageRecord, error) {
	if err := d.topicExists(ctx, req.TopicID); err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &store.MessageRecord{
		ID:         uuid.NewString(),
		TopicID:    req.TopicID,
		Role:       req.Role,
		Content:    req.Content,
		TokensUsed: req.TokensUsed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO message (id, topic_id, role, content, tokens_used, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TopicID, msg.Role, msg.Content, msg.TokensUsed, now.Unix(), now.Unix(),
	); err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to create message: %v", err)
	}

	return msg, nil
}

func (d *DB) RemoveMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	// duplicates in the input delete a single row, so the affected count is
	// compared against unique ids
	seen := make(map[string]bool, len(messageIDs))
	args := make([]any, 0, len(messageIDs))
	for _, id := range messageIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")

	result, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to delete messages: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to read rows affected: %v", err)
	}
	if int(affected) != len(args) {
		return errors.Wrapf(store.ErrNotFound, "%d of %d messages", len(args)-int(affected), len(args))
	}
	return nil
}

func (d *DB) topicExists(ctx context.Context, topicID string) error {
	var one int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM topic WHERE id = ?`, topicID).Scan(&one)
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}
	return errors.Wrapf(store.ErrBackendUnavailable, "failed to check topic: %v", err)
}
