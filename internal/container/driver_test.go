package container

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitName(t *testing.T) {
	tests := []struct {
		task, node string
		slot       int
		want       string
	}{
		{"calc", "n1", 0, "idm-calc-n1-0"},
		{"calc", "4f1c-9a", 7, "idm-calc-4f1c-9a-7"},
		{"my task/v2", "n1", 1, "idm-my-task-v2-n1-1"},
		{"a:b", "n:1", 2, "idm-a-b-n-1-2"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, UnitName(tt.task, tt.node, tt.slot))
	}
}

// TestDockerDriver_Lifecycle runs against a real engine when GRIDCORE_TEST_DOCKER is set.
func TestDockerDriver_Lifecycle(t *testing.T) {
	if os.Getenv("GRIDCORE_TEST_DOCKER") == "" {
		t.Skip("GRIDCORE_TEST_DOCKER not set")
	}

	ctx := context.Background()
	d, err := ConnectDocker(ctx, 1, time.Second)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.PullImage(ctx, "busybox:latest", "linux/amd64"))

	spec := UnitSpec{
		Name:     UnitName("lifecycle", "test", 0),
		Image:    "busybox:latest",
		Env:      map[string]string{"TASK_NAME": "lifecycle"},
		MemoryMB: 64,
		CPUs:     1,
	}
	id, err := d.StartUnit(ctx, spec)
	require.NoError(t, err)

	// Same name again must replace the first unit.
	id2, err := d.StartUnit(ctx, spec)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	require.NoError(t, d.StopUnit(ctx, id2, time.Second))
	require.NoError(t, d.RemoveUnit(ctx, id2))

	assert.NoError(t, d.StopUnit(ctx, id2, time.Second), "stopping a removed unit succeeds")
	assert.NoError(t, d.RemoveUnit(ctx, id2), "removing a removed unit succeeds")
}
