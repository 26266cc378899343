package acdat

import "sync"

// nodeBufPool reuses the fixed-size buffers that directory headers are
// assembled into. Parsing copies every field out, so a buffer can go back to
// the pool as soon as parseNodeHeader returns.
var nodeBufPool = sync.Pool{
	New: func() any { return new([nodeHeaderSize]byte) },
}

// getNodeBuf obtains a header buffer from the pool. The contents are
// unspecified; readChain overwrites all of it.
func getNodeBuf() *[nodeHeaderSize]byte { return nodeBufPool.Get().(*[nodeHeaderSize]byte) }

// putNodeBuf returns a header buffer to the pool for reuse.
func putNodeBuf(b *[nodeHeaderSize]byte) { nodeBufPool.Put(b) }
