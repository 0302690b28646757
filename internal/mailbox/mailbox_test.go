package mailbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTakeFromEmpty(t *testing.T) {
	m := New()

	path, ok := m.Take()
	assert.False(t, ok)
	assert.Empty(t, path)
}

func TestPutThenTake(t *testing.T) {
	m := New()
	m.Put("/home/writer/draft.txt")

	path, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, "/home/writer/draft.txt", path)
}

func TestTakeDeliversOnce(t *testing.T) {
	m := New()
	m.Put("/tmp/a.txt")

	_, ok := m.Take()
	require.True(t, ok)

	_, ok = m.Take()
	assert.False(t, ok, "second take must find the slot empty")
}

func TestPutReplacesUndelivered(t *testing.T) {
	m := New()
	m.Put("/tmp/first.txt")
	m.Put("/tmp/second.txt")

	path, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, "/tmp/second.txt", path)

	_, ok = m.Take()
	assert.False(t, ok)
}

func TestConcurrentPutTake(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Put("/tmp/racer.txt")
		}()
		go func() {
			defer wg.Done()
			if path, ok := m.Take(); ok && path != "/tmp/racer.txt" {
				t.Errorf("took unexpected value %q", path)
			}
		}()
	}
	wg.Wait()
}
