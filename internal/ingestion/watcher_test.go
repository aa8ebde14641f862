package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{"api/ping.yaml": pingOAS})

	got := make(chan []string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, nil, 20*time.Millisecond, discardLogger(), func(_ context.Context, changed []string) {
			select {
			case got <- changed:
			default:
			}
		})
	}()

	// The watcher starts asynchronously; keep touching files until a burst
	// is reported.
	var changed []string
	n := 0
	require.Eventually(t, func() bool {
		n++
		_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte(fmt.Sprint(n)), 0o644)
		_ = os.WriteFile(filepath.Join(root, "api", "ping.yaml"), []byte(pingOAS+fmt.Sprintf("# %d\n", n)), 0o644)
		select {
		case changed = <-got:
			return true
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	assert.Equal(t, []string{filepath.Join("api", "ping.yaml")}, changed)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestWatch_MissingRoot(t *testing.T) {
	t.Parallel()

	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent"), nil, 0, discardLogger(), func(context.Context, []string) {})
	assert.Error(t, err)
}

func TestShouldWatchFile(t *testing.T) {
	t.Parallel()

	matcher := newMatcher(nil)
	root := "/repo"
	assert.True(t, shouldWatchFile("/repo/api/ping.yaml", root, matcher))
	assert.True(t, shouldWatchFile("/repo/pets.RAML", root, matcher))
	assert.False(t, shouldWatchFile("/repo/notes.txt", root, matcher))
	assert.False(t, shouldWatchFile("/repo/out/ping.jsonld", root, matcher))
	assert.False(t, shouldWatchFile("/repo/node_modules/x/a.yaml", root, matcher))
}
