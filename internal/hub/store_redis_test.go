package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wolido/idm-gridcore/pkg/types"
)

// Set GRIDCORE_TEST_REDIS to a redis:// URL to run against a real server.
func TestRedisStore_Integration(t *testing.T) {
	url := os.Getenv("GRIDCORE_TEST_REDIS")
	if url == "" {
		t.Skip("GRIDCORE_TEST_REDIS not set")
	}

	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	key := "gridcore:test:" + t.Name()
	t.Cleanup(func() { rdb.Del(context.Background(), key) })

	store := NewRedisStore(rdb, key)
	writer := NewSnapshotWriter(store, 2*time.Second)
	writer.Start()

	state := NewState(WithPersister(writer))
	state.AddTask(types.Task{Name: "a", Image: "img:a"})
	state.AddTask(types.Task{Name: "b", Image: "img:b"})
	_, _, err = state.Advance()
	require.NoError(t, err)
	writer.Stop()

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)

	restored := NewState()
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, "a", restored.CurrentTask().Name)
	list := restored.ListTasks()
	assert.Equal(t, []string{"b"}, list.Pending)
}
