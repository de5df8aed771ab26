package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLazyCreation(t *testing.T) {
	m := NewManager(testConfig())

	_, ok := m.Snapshot("openai")
	assert.False(t, ok, "no breaker before first use")

	assert.True(t, m.Allow("openai"))
	snap, ok := m.Snapshot("openai")
	require.True(t, ok)
	assert.Equal(t, "closed", snap.State)
}

func TestManagerSharedInstancePerProvider(t *testing.T) {
	m := NewManager(testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordFailure("deepseek")
		}()
	}
	wg.Wait()

	snap, ok := m.Snapshot("deepseek")
	require.True(t, ok)
	assert.Equal(t, "open", snap.State, "16 failures against one shared breaker")

	assert.Len(t, m.Snapshots(), 1)
}

func TestManagerSnapshotsSorted(t *testing.T) {
	m := NewManager(testConfig())
	m.Allow("openai")
	m.Allow("anthropic")
	m.Allow("deepseek")

	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "anthropic", snaps[0].Provider)
	assert.Equal(t, "deepseek", snaps[1].Provider)
	assert.Equal(t, "openai", snaps[2].Provider)
}

func TestManagerReset(t *testing.T) {
	m := NewManager(testConfig())

	assert.False(t, m.Reset("nonexistent"))

	for i := 0; i < 3; i++ {
		m.RecordFailure("openai")
	}
	snap, _ := m.Snapshot("openai")
	require.Equal(t, "open", snap.State)

	assert.True(t, m.Reset("openai"))
	snap, _ = m.Snapshot("openai")
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestManagerOnStateChangeAppliesToExistingAndNew(t *testing.T) {
	m := NewManager(testConfig())
	m.Allow("existing")

	var mu sync.Mutex
	seen := make(map[string]bool)
	m.OnStateChange(func(provider string, from, to State) {
		mu.Lock()
		seen[provider] = true
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		m.RecordFailure("existing")
		m.RecordFailure("created-later")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["existing"] && seen["created-later"]
	}, time.Second, 10*time.Millisecond)
}
