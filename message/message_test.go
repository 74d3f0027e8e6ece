package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRequestLayout(t *testing.T) {
	m := NewRequest(1, 2, 16384)
	buf := m.Serialize()
	require.Len(t, buf, 4+1+12)
	assert.Equal(t, byte(Request), buf[4])
}

func TestSerializeKeepAlive(t *testing.T) {
	var m *Message
	assert.Equal(t, []byte{0, 0, 0, 0}, m.Serialize())
}

func TestReadKeepAlive(t *testing.T) {
	m, err := Read(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRoundTripRequest(t *testing.T) {
	orig := NewRequest(7, 16384, 16384)
	parsed, err := Read(bytes.NewReader(orig.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)
}

func TestRoundTripHave(t *testing.T) {
	orig := NewHave(42)
	parsed, err := Read(bytes.NewReader(orig.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, orig, parsed)

	index, err := parsed.ParseHave()
	require.NoError(t, err)
	assert.Equal(t, 42, index)
}

func TestRoundTripCancelSharesRequestLayout(t *testing.T) {
	orig := NewCancel(3, 0, 16384)
	parsed, err := Read(bytes.NewReader(orig.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, Cancel, parsed.ID)
	assert.Equal(t, orig.Payload, parsed.Payload)
}

func TestReadUnknownIDIsTolerated(t *testing.T) {
	m := &Message{ID: ID(200), Payload: []byte("future extension")}
	parsed, err := Read(bytes.NewReader(m.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, ID(200), parsed.ID)
	assert.Equal(t, m.Payload, parsed.Payload)
}

func TestParsePiece(t *testing.T) {
	msg := &Message{
		ID:      Piece,
		Payload: append([]byte{0, 0, 0, 5, 0, 0, 0, 2}, []byte("hi")...),
	}
	buf := make([]byte, 8)
	n, err := msg.ParsePiece(5, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0, 0, 'h', 'i', 0, 0, 0, 0}, buf)
}

func TestParsePieceWrongIndex(t *testing.T) {
	msg := &Message{
		ID:      Piece,
		Payload: append([]byte{0, 0, 0, 9, 0, 0, 0, 0}, []byte("x")...),
	}
	_, err := msg.ParsePiece(5, make([]byte, 8))
	assert.Error(t, err)
}

func TestParsePieceWrongID(t *testing.T) {
	msg := &Message{ID: Choke}
	_, err := msg.ParsePiece(0, make([]byte, 8))
	assert.Error(t, err)
}

func TestParsePieceBeginOutOfBounds(t *testing.T) {
	msg := &Message{
		ID:      Piece,
		Payload: append([]byte{0, 0, 0, 0, 0, 0, 0, 100}, []byte("x")...),
	}
	_, err := msg.ParsePiece(0, make([]byte, 8))
	assert.Error(t, err)
}

func TestParsePieceOverrunsBuffer(t *testing.T) {
	msg := &Message{
		ID:      Piece,
		Payload: append([]byte{0, 0, 0, 0, 0, 0, 0, 6}, []byte("toolong!!!!")...),
	}
	_, err := msg.ParsePiece(0, make([]byte, 8))
	assert.Error(t, err)
}

func TestParseHaveWrongLength(t *testing.T) {
	msg := &Message{ID: Have, Payload: []byte{1, 2}}
	_, err := msg.ParseHave()
	assert.Error(t, err)
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "Piece", Piece.String())
	assert.Equal(t, "KeepAlive", (*Message)(nil).String())
	assert.Contains(t, NewHave(1).String(), "Have")
}
