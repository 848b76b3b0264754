package mask

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounts(t *testing.T) {
	m := FromBools([]bool{true, false, true, true, false})
	assert.EqualValues(t, 5, m.Len())
	assert.EqualValues(t, 3, m.TrueCount())
	assert.EqualValues(t, 2, m.FalseCount())
	assert.True(t, m.Get(0))
	assert.False(t, m.Get(1))
	assert.False(t, m.Get(99))

	full := Full(10)
	assert.EqualValues(t, 10, full.TrueCount())
	assert.EqualValues(t, 0, full.FalseCount())

	require.Error(t, m.Set(5))
	require.NoError(t, m.Set(4))
	assert.EqualValues(t, 4, m.TrueCount())
}

func TestPackedRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 7, 8, 9, 13, 64, 1001} {
		bools := make([]bool, n)
		for i := range bools {
			bools[i] = i%3 == 0 || i == int(n)-1
		}
		m := FromBools(bools)
		packed := EncodePacked(m)
		assert.EqualValues(t, PackedLen(n), len(packed), "n=%d", n)

		back, err := DecodePacked(packed, n)
		require.NoError(t, err)
		assert.True(t, m.Equal(back), "n=%d", n)
	}
}

func TestPackedBitOrder(t *testing.T) {
	m := FromBools([]bool{true, false, false, false, false, false, false, true, false, true})
	assert.Equal(t, []byte{0x81, 0x40}, EncodePacked(m))
}

func TestDecodeIgnoresPadding(t *testing.T) {
	// 10 rows, padding bits in the second byte are all set
	m, err := DecodePacked([]byte{0x00, 0xff}, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, m.TrueCount())
	assert.Equal(t, []uint32{8, 9}, m.Indices())
}

func TestDecodeShort(t *testing.T) {
	_, err := DecodePacked([]byte{0x00}, 9)
	assert.True(t, errors.Is(err, ErrShortMask))
}

func TestFromRange(t *testing.T) {
	m := FromRange(10, 3, 6)
	assert.Equal(t, []uint32{3, 4, 5}, m.Indices())
	assert.EqualValues(t, 10, m.Len())
	assert.EqualValues(t, 2, FromRange(10, 8, 20).TrueCount())
	assert.EqualValues(t, 0, FromRange(10, 5, 5).TrueCount())
}

func TestConcat(t *testing.T) {
	m, err := Concat(FromBools([]bool{true, false}), New(3), FromBools([]bool{false, true, true}))
	require.NoError(t, err)
	assert.EqualValues(t, 8, m.Len())
	assert.Equal(t, []uint32{0, 6, 7}, m.Indices())
	empty, err := Concat()
	require.NoError(t, err)
	assert.EqualValues(t, 0, empty.Len())
}

func TestConcatRowLimit(t *testing.T) {
	last := FromRange(MaxRows, MaxRows-1, MaxRows)
	m, err := Concat(last)
	require.NoError(t, err)
	assert.Equal(t, []uint32{math.MaxUint32}, m.Indices())

	_, err = Concat(last, FromBools([]bool{true}))
	assert.ErrorIs(t, err, ErrTooManyRows)

	assert.NoError(t, CheckRows(MaxRows))
	assert.ErrorIs(t, CheckRows(MaxRows+1), ErrTooManyRows)
}
