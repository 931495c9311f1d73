package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestTopicRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	created, err := db.AddTopic(ctx, "Demo")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	topics, err := db.GetAllTopics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Demo", topics[0].Name)

	renamed, err := db.EditTopicName(ctx, created.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Name)
	assert.Equal(t, created.ID, renamed.ID)
}

func TestMessageRoundTripAndOrdering(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	topic, err := db.AddTopic(ctx, "ordering")
	require.NoError(t, err)

	ids := make([]string, 0, 4)
	for _, content := range []string{"a", "b", "c", "d"} {
		msg, err := db.AddMessage(ctx, store.AddMessageRequest{
			TopicID: topic.ID,
			Role:    "user",
			Content: content,
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	// All inserts land within the same second; rowid must keep them stable.
	msgs, err := db.GetMessagesByTopic(ctx, topic.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, msg := range msgs {
		assert.Equal(t, ids[i], msg.ID)
	}
}

func TestLastAccessedTopicLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	last, err := db.GetLastAccessedTopic(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)

	topic, err := db.AddTopic(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, db.UpdateTopicAccess(ctx, topic.ID))

	last, err = db.GetLastAccessedTopic(ctx)
	require.NoError(t, err)
	assert.Equal(t, topic.ID, last)

	require.NoError(t, db.RemoveTopic(ctx, topic.ID))
	last, err = db.GetLastAccessedTopic(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestRemoveTopicDeletesMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	topic, err := db.AddTopic(ctx, "doomed")
	require.NoError(t, err)
	_, err = db.AddMessage(ctx, store.AddMessageRequest{TopicID: topic.ID, Role: "user", Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, db.RemoveTopic(ctx, topic.ID))

	_, err = db.GetMessagesByTopic(ctx, topic.ID)
	assert.True(t, store.IsNotFound(err))
}

func TestRemoveMessagesToleratesDuplicateIDs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	topic, err := db.AddTopic(ctx, "t")
	require.NoError(t, err)
	first, err := db.AddMessage(ctx, store.AddMessageRequest{TopicID: topic.ID, Role: "user", Content: "a"})
	require.NoError(t, err)
	second, err := db.AddMessage(ctx, store.AddMessageRequest{TopicID: topic.ID, Role: "assistant", Content: "b"})
	require.NoError(t, err)

	require.NoError(t, db.RemoveMessages(ctx, []string{first.ID, first.ID, second.ID}))

	msgs, err := db.GetMessagesByTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestNotFoundMapping(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	assert.True(t, store.IsNotFound(db.RemoveTopic(ctx, "missing")))
	assert.True(t, store.IsNotFound(db.UpdateTopicAccess(ctx, "missing")))
	_, err := db.EditTopicName(ctx, "missing", "name")
	assert.True(t, store.IsNotFound(err))
	_, err = db.GetMessagesByTopic(ctx, "missing")
	assert.True(t, store.IsNotFound(err))

	topic, err := db.AddTopic(ctx, "t")
	require.NoError(t, err)
	msg, err := db.AddMessage(ctx, store.AddMessageRequest{TopicID: topic.ID, Role: "user", Content: "hi"})
	require.NoError(t, err)
	assert.True(t, store.IsNotFound(db.RemoveMessages(ctx, []string{msg.ID, "missing"})))
}
