package chat

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/chat-app/internal/channel"
)

// newTestDB opens DATABASE_URL, applies migrations and returns a fresh
// channel id so tests do not see each other's rows. Tests that call it are
// skipped when no database is configured.
func newTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, Migrate(db))

	channelID := "test-" + uuid.NewString()
	t.Cleanup(func() {
		db.Exec(`DELETE FROM messages WHERE channel_id = $1`, channelID)
		db.Exec(`DELETE FROM channels WHERE id = $1`, channelID)
		db.Close()
	})
	return db, channelID
}

func TestPostgresStore_History(t *testing.T) {
	db, channelID := newTestDB(t)
	ctx := context.Background()

	dir := channel.NewPostgres(db)
	require.NoError(t, dir.Create(ctx, channelID, "test", false))

	store := NewPostgresStore(db)
	p := NewPipeline(PipelineConfig{
		Store:       store,
		Channels:    dir,
		Broadcaster: &recordingBroadcaster{},
	})

	var want []string
	for i := 1; i <= 12; i++ {
		msg, err := p.Submit(ctx, Sender{UserID: "alice"}, channelID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		require.NotZero(t, msg.Seq)
		want = append(want, msg.ID)
	}

	n, err := store.Count(ctx, channelID)
	require.NoError(t, err)
	require.Equal(t, 12, n)

	recent, err := store.FetchRecent(ctx, channelID, 0, 5)
	require.NoError(t, err)
	require.Equal(t, want[7:], ids(recent))

	older, more, err := store.FetchBefore(ctx, channelID, recent[0].ID, 5)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, want[2:7], ids(older))

	_, _, err = store.FetchBefore(ctx, channelID, "no-such-id", 5)
	require.ErrorIs(t, err, ErrUnknownCursor)
}

func TestPostgresDirectory_Membership(t *testing.T) {
	db, channelID := newTestDB(t)
	ctx := context.Background()
	dir := channel.NewPostgres(db)

	ok, err := dir.Exists(ctx, channelID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, dir.Create(ctx, channelID, "secret", true))
	require.NoError(t, dir.AddMember(ctx, channelID, "bob"))

	ok, err = dir.IsMember(ctx, "bob", channelID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = dir.IsMember(ctx, "alice", channelID)
	require.NoError(t, err)
	require.False(t, ok)
}
