package pe

import "sync"

// Scratch buffers are taken for the duration of a single read and returned
// right after. Buffers above maxPooledSize are not kept.
const maxPooledSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

func getBuffer(size int) *[]byte {
	buf := bufferPool.Get().(*[]byte)
	if cap(*buf) < size {
		b := make([]byte, size)
		buf = &b
	}
	*buf = (*buf)[:size]
	clear(*buf)
	return buf
}

func putBuffer(buf *[]byte) {
	if cap(*buf) > maxPooledSize {
		return
	}
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
