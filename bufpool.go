package ninepl

import "sync"

// scratchPool recycles growable byte slices used as staging buffers
// while a handler assembles a reply body. It plays the same get/reset/
// put role the teacher's decoder and bufio.Writer pools played around
// its per-connection stream, applied here to the one place a handler
// builds output incrementally: Treaddir's entry list.
var scratchPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, 4096)
	},
}

func getScratch() []byte {
	return scratchPool.Get().([]byte)[:0]
}

func putScratch(buf []byte) {
	scratchPool.Put(buf)
}
