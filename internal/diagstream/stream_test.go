package diagstream

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is safe for the concurrent test below even without the
// stream's own locking.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failing struct{}

func (failing) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWritesAreWholeUnits(t *testing.T) {
	var buf lockedBuffer
	Init(&buf)
	t.Cleanup(func() { Init(os.Stderr) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Printf("unit-%02d:%s\n", i, strings.Repeat("x", 64))
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 16)
	for _, line := range lines {
		assert.Len(t, line, len("unit-00:")+64)
	}
}

func TestWriterForwards(t *testing.T) {
	var buf lockedBuffer
	Init(&buf)
	t.Cleanup(func() { Init(os.Stderr) })

	n, err := fmt.Fprint(Writer(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	WriteString(" world")
	assert.Equal(t, "hello world", buf.String())
	require.NoError(t, Flush())
}

func TestFailingSinkIsBestEffort(t *testing.T) {
	Init(failing{})
	t.Cleanup(func() { Init(os.Stderr) })

	before := Dropped()
	Printf("lost %d\n", 1)
	n, err := Writer().Write([]byte("lost too"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, before+2, Dropped())
}

func TestNilSinkDiscards(t *testing.T) {
	Init(nil)
	t.Cleanup(func() { Init(os.Stderr) })
	before := Dropped()
	WriteString("nothing")
	assert.Equal(t, before, Dropped())
}
