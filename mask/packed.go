package mask

import "fmt"

// PackedLen is the number of bytes a packed mask over n rows occupies.
func PackedLen(n uint64) uint64 {
	return (n + 7) / 8
}

// EncodePacked writes one bit per row, 8 rows per byte, most significant bit
// first. Padding bits in the last byte are zero.
func EncodePacked(m *Mask) []byte {
	b := make([]byte, PackedLen(m.n))
	it := m.bits.Iterator()
	for it.HasNext() {
		i := it.Next()
		b[i/8] |= 0x80 >> (i % 8)
	}
	return b
}

// DecodePacked reads n rows from a packed mask. Anything past bit n is ignored,
// the writer is free to leave garbage in the padding.
func DecodePacked(b []byte, n uint64) (*Mask, error) {
	if uint64(len(b)) < PackedLen(n) {
		return nil, fmt.Errorf("%w: %d bytes for %d rows", ErrShortMask, len(b), n)
	}
	m := New(n)
	for i := uint64(0); i < n; i++ {
		if b[i/8]&(0x80>>(i%8)) != 0 {
			m.bits.Add(uint32(i))
		}
	}
	return m, nil
}
