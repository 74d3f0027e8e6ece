package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPiece(t *testing.T) {
	bf := Bitfield{0b01010100, 0b01010100}
	tests := []struct {
		index int
		want  bool
	}{
		{0, false}, {1, true}, {2, false}, {3, true},
		{4, false}, {5, true}, {6, false}, {7, false},
		{9, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bf.HasPiece(tt.index), "index %d", tt.index)
	}
}

func TestHasPieceOutOfRange(t *testing.T) {
	bf := Bitfield{0xff, 0xff}
	assert.False(t, bf.HasPiece(-1))
	assert.False(t, bf.HasPiece(16))
	assert.False(t, bf.HasPiece(1000))
}

func TestSetPiece(t *testing.T) {
	bf := make(Bitfield, 2)
	bf.SetPiece(4)
	assert.True(t, bf.HasPiece(4))
	for i := 0; i < 16; i++ {
		if i != 4 {
			assert.False(t, bf.HasPiece(i))
		}
	}
}

func TestSetPieceOutOfRangeIgnored(t *testing.T) {
	bf := make(Bitfield, 1)
	assert.NotPanics(t, func() {
		bf.SetPiece(-1)
		bf.SetPiece(100)
	})
	assert.Equal(t, Bitfield{0}, bf)
}

func TestSetThenHasRoundTrip(t *testing.T) {
	bf := make(Bitfield, 4)
	for i := 0; i < 32; i++ {
		bf.SetPiece(i)
		assert.True(t, bf.HasPiece(i))
	}
}
