package cdr

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterAppendOnly(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "calls.cdr")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, w.Append(New("0100", start, start.Add(time.Minute), 1, ReasonNormalClearing, 5, 95)))
	require.NoError(t, w.Append(Rejection("0200", ReasonUserNotFound, 0)))

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "0100")
	assert.Contains(t, lines[1], "0200")
}

func TestWriterSerializesConcurrentAppends(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "calls.cdr")
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	start := time.Now()
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Append(New("01223456789", start, start.Add(time.Second), 1, ReasonNormalClearing, 5, 95)))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, writers)
	for _, line := range lines {
		// A torn or interleaved append would break the field count.
		assert.Len(t, strings.Split(line, ", "), 8)
	}
}
