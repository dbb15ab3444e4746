package backend

// BufVec is a vector of data buffers used by the ReadBuf/WriteBuf
// capabilities. Backends that can hand out references to internal buffers
// avoid a copy; the dispatch layer flattens the vector only when falling
// back to the plain Read/Write capabilities.
type BufVec struct {
	Bufs [][]byte
}

// NewBufVec wraps a single buffer.
func NewBufVec(b []byte) *BufVec {
	return &BufVec{Bufs: [][]byte{b}}
}

// Size returns the total number of bytes in the vector.
func (v *BufVec) Size() int {
	total := 0
	for _, b := range v.Bufs {
		total += len(b)
	}
	return total
}

// Flatten copies the vector into one contiguous buffer.
func (v *BufVec) Flatten() []byte {
	if len(v.Bufs) == 1 {
		return v.Bufs[0]
	}
	out := make([]byte, 0, v.Size())
	for _, b := range v.Bufs {
		out = append(out, b...)
	}
	return out
}
