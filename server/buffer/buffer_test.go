package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferGrowth(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := New(0)

	total, lastCap := 0, 0
	for range 500 {
		n := rng.Intn(3000)
		chunk := make([]byte, n)
		require.NoError(t, b.Append(chunk))
		total += n

		assert.Equal(t, total, b.Len())
		assert.GreaterOrEqual(t, b.Cap(), lastCap, "capacity must never shrink")
		assert.LessOrEqual(t, b.Len(), b.Cap())
		lastCap = b.Cap()
	}
}

func TestGrowPolicy(t *testing.T) {
	b := New(10)
	require.NoError(t, b.AppendString("0123456789"))

	require.NoError(t, b.Push('x'))
	assert.Equal(t, 10+Growth, b.Cap(), "small grow adds the fixed increment")

	big := make([]byte, 3*Growth)
	require.NoError(t, b.Append(big))
	assert.Equal(t, 10+Growth+3*Growth, b.Cap(), "large grow adds the requested amount")
}

func TestAppendf(t *testing.T) {
	b := New(0)
	n, err := b.Appendf("%s %d\r\n", "HTTP/1.1", 200)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, "HTTP/1.1 200\r\n", b.String())
}

func TestLimit(t *testing.T) {
	b := NewLimited(4, 8)
	require.NoError(t, b.AppendString("abcdefgh"))
	assert.True(t, b.Full())
	assert.ErrorIs(t, b.Push('i'), ErrTooLarge)
	assert.Equal(t, "abcdefgh", b.String(), "a refused append leaves content intact")

	_, err := b.Spare()
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestSpareAdvance(t *testing.T) {
	b := NewLimited(0, 6)
	sp, err := b.Spare()
	require.NoError(t, err)
	assert.Len(t, sp, 6)

	n := copy(sp, "GET ")
	b.Advance(n)
	assert.Equal(t, "GET ", b.String())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 6, b.Cap(), "reset keeps the allocation")
}

func BenchmarkAppend(b *testing.B) {
	line := []byte("Content-Type: text/html\r\n")
	buf := New(0)

	b.ReportAllocs()
	for b.Loop() {
		buf.Reset()
		for range 16 {
			_ = buf.Append(line)
		}
	}
}
