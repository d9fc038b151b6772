package bot

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (i *Idler) suspendDepth() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.suspended
}

func testIdler() *Idler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewIdler(logger, 20, 5)
}

func waitForActions(t *testing.T, client *fakeClient, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return client.actionCount() >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestIdlerPerformsActions(t *testing.T) {
	idler := testIdler()
	defer idler.Stop()

	client := newFakeClient()
	idler.Start(client)
	waitForActions(t, client, 1)
}

func TestIdlerSuspendResume(t *testing.T) {
	idler := testIdler()
	defer idler.Stop()

	client := newFakeClient()
	idler.Start(client)
	waitForActions(t, client, 1)

	idler.Suspend()
	before := client.actionCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, client.actionCount())

	idler.Resume()
	waitForActions(t, client, before+1)
}

func TestIdlerSuspendNesting(t *testing.T) {
	idler := testIdler()
	defer idler.Stop()

	idler.Suspend()
	idler.Suspend()
	assert.Equal(t, 2, idler.suspendDepth())

	idler.Resume()
	assert.Equal(t, 1, idler.suspendDepth())
	idler.Resume()
	assert.Equal(t, 0, idler.suspendDepth())

	// Resume never drives the depth negative.
	idler.Resume()
	assert.Equal(t, 0, idler.suspendDepth())
}

func TestIdlerSuspensionClearedAcrossSessions(t *testing.T) {
	idler := testIdler()
	defer idler.Stop()

	first := newFakeClient()
	idler.Start(first)
	idler.Suspend()

	// The session dies while suspended; the next one must idle again even
	// though no Resume ever arrived for the old suspension.
	idler.Stop()
	assert.Equal(t, 0, idler.suspendDepth())

	second := newFakeClient()
	idler.Start(second)
	waitForActions(t, second, 1)
}

func TestIdlerStartRebindsSuspended(t *testing.T) {
	idler := testIdler()
	defer idler.Stop()

	first := newFakeClient()
	idler.Start(first)
	idler.Suspend()

	// Rebinding to a fresh session clears suspensions left over from the
	// previous one.
	second := newFakeClient()
	idler.Start(second)
	assert.Equal(t, 0, idler.suspendDepth())
	waitForActions(t, second, 1)
}
