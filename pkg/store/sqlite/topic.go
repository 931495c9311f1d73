package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/store"
)

const lastAccessedTopicKey = "last_accessed_topic"

func (d *DB) GetAllTopics(ctx context.Context) ([]*store.TopicRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, created_ts, last_accessed_ts
		FROM topic
		ORDER BY created_ts DESC, rowid DESC`)
	if err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to query topics: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	list := make([]*store.TopicRecord, 0)
	for rows.Next() {
		var topic store.TopicRecord
		var createdTs, lastAccessedTs int64
		if err := rows.Scan(&topic.ID, &topic.Name, &createdTs, &lastAccessedTs); err != nil {
			return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to scan topic: %v", err)
		}
		topic.CreatedAt = time.Unix(createdTs, 0)
		topic.LastAccessedAt = time.Unix(lastAccessedTs, 0)
		list = append(list, &topic)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to iterate topics: %v", err)
	}

	return list, nil
}

func (d *DB) AddTopic(ctx context.Context, name string) (*store.TopicRecord, error) {
	now := time.Now()
	topic := &store.TopicRecord{
		ID:             uuid.NewString(),
		Name:           name,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO topic (id, name, created_ts, last_accessed_ts)
		VALUES (?, ?, ?, ?)`,
		topic.ID, topic.Name, now.Unix(), now.Unix(),
	); err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to create topic: %v", err)
	}

	return topic, nil
}

func (d *DB) RemoveTopic(ctx context.Context, topicID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to begin transaction: %v", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM message WHERE topic_id = ?`, topicID); err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to delete topic messages: %v", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM topic WHERE id = ?`, topicID)
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to delete topic: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to read rows affected: %v", err)
	}
	if affected == 0 {
		return errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM app_state WHERE key = ? AND value = ?`,
		lastAccessedTopicKey, topicID,
	); err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to clear last accessed marker: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to commit: %v", err)
	}
	return nil
}

func (d *DB) EditTopicName(ctx context.Context, topicID string, name string) (*store.TopicRecord, error) {
	var topic store.TopicRecord
	var createdTs, lastAccessedTs int64
	err := d.db.QueryRowContext(ctx, `
		UPDATE topic SET name = ? WHERE id = ?
		RETURNING id, name, created_ts, last_accessed_ts`,
		name, topicID,
	).Scan(&topic.ID, &topic.Name, &createdTs, &lastAccessedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}
	if err != nil {
		return nil, errors.Wrapf(store.ErrBackendUnavailable, "failed to rename topic: %v", err)
	}

	topic.CreatedAt = time.Unix(createdTs, 0)
	topic.LastAccessedAt = time.Unix(lastAccessedTs, 0)
	return &topic, nil
}

func (d *DB) UpdateTopicAccess(ctx context.Context, topicID string) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE topic SET last_accessed_ts = ? WHERE id = ?`,
		time.Now().Unix(), topicID,
	)
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to touch topic access: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to read rows affected: %v", err)
	}
	if affected == 0 {
		return errors.Wrapf(store.ErrNotFound, "topic %s", topicID)
	}

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		lastAccessedTopicKey, topicID,
	); err != nil {
		return errors.Wrapf(store.ErrBackendUnavailable, "failed to record last accessed topic: %v", err)
	}
	return nil
}

func (d *DB) GetLastAccessedTopic(ctx context.Context) (string, error) {
	var topicID string
	err := d.db.QueryRowContext(ctx, `
		SELECT value FROM app_state WHERE key = ?`,
		lastAccessedTopicKey,
	).Scan(&topicID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(store.ErrBackendUnavailable, "failed to query last accessed topic: %v", err)
	}
	return topicID, nil
}
