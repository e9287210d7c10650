package engine

import "sync"

// chunkPool hands out file-read buffers so body writes don't allocate per chunk
type chunkPool struct {
	size int
	pool sync.Pool
}

func newChunkPool(size int) *chunkPool {
	p := &chunkPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *chunkPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *chunkPool) put(b *[]byte) {
	if cap(*b) != p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}
