package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.SetClock(fixedClock(base))

	s, err := r.Create("s-1", "alice")
	req.NoError(err)
	req.Equal("s-1", s.ID)
	req.Equal("alice", s.DisplayName)
	req.Equal(base.Add(time.Second), s.ConnectedAt)

	got, ok := r.Get("s-1")
	req.True(ok)
	req.Equal(s, got)

	_, ok = r.Get("missing")
	req.False(ok, "absence is not an error")
}

func TestRegistryCreateValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("", "alice")
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = r.Create("s-1", "")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = r.Create("s-1", "alice")
	require.NoError(t, err)

	_, err = r.Create("s-1", "bob")
	assert.ErrorIs(t, err, ErrDuplicateSession)

	got, _ := r.Get("s-1")
	assert.Equal(t, "alice", got.DisplayName, "duplicate create must not overwrite")
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("s-1", "alice")
	require.NoError(t, err)

	removed, ok := r.Remove("s-1")
	assert.True(t, ok)
	assert.Equal(t, "alice", removed.DisplayName)

	_, ok = r.Remove("s-1")
	assert.False(t, ok)
	_, ok = r.Remove("never-existed")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestRegistryListOrderedByJoinTime(t *testing.T) {
	r := NewRegistry()
	r.SetClock(fixedClock(time.Unix(0, 0)))

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := r.Create("id-"+name, name)
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "carol", list[0].DisplayName)
	assert.Equal(t, "alice", list[1].DisplayName)
	assert.Equal(t, "bob", list[2].DisplayName)

	list[0].DisplayName = "mutated"
	got, _ := r.Get("id-carol")
	assert.Equal(t, "carol", got.DisplayName, "List returns copies")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			if _, err := r.Create(id, "user"); err == nil {
				r.List()
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}
