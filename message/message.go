// Package message implements the length-prefixed BitTorrent peer wire
// messages: encoding, decoding, and the handful of typed payload
// helpers the peer session needs.
package message

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies a peer wire message type.
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
)

// Message is a single framed peer message: <id><payload>. A nil
// *Message serializes to (and is produced by reading) a keep-alive.
type Message struct {
	ID      ID
	Payload []byte
}

// NewRequest builds a REQUEST message for a block within a piece.
func NewRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

// NewCancel builds a CANCEL message, same layout as REQUEST.
func NewCancel(index, begin, length int) *Message {
	m := NewRequest(index, begin, length)
	m.ID = Cancel
	return m
}

// NewHave builds a HAVE message reporting possession of piece index.
func NewHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

// ParsePiece validates and extracts the block from a PIECE message,
// copying its data into buf at the block's offset. Returns the number
// of bytes copied.
func (m *Message) ParsePiece(expectedIndex int, buf []byte) (int, error) {
	if m.ID != Piece {
		return 0, fmt.Errorf("message: expected PIECE (id %d), got id %d", Piece, m.ID)
	}
	if len(m.Payload) < 8 {
		return 0, fmt.Errorf("message: PIECE payload too short, %d < 8", len(m.Payload))
	}
	index := int(binary.BigEndian.Uint32(m.Payload[0:4]))
	if index != expectedIndex {
		return 0, fmt.Errorf("message: expected index %d, got %d", expectedIndex, index)
	}
	begin := int(binary.BigEndian.Uint32(m.Payload[4:8]))
	if begin >= len(buf) {
		return 0, fmt.Errorf("message: begin %d out of bounds for piece length %d", begin, len(buf))
	}
	data := m.Payload[8:]
	if begin+len(data) > len(buf) {
		return 0, fmt.Errorf("message: block of length %d at offset %d overruns piece length %d", len(data), begin, len(buf))
	}
	copy(buf[begin:], data)
	return len(data), nil
}

// ParseHave extracts the piece index from a HAVE message.
func (m *Message) ParseHave() (int, error) {
	if m.ID != Have {
		return 0, fmt.Errorf("message: expected HAVE (id %d), got id %d", Have, m.ID)
	}
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("message: HAVE payload must be 4 bytes, got %d", len(m.Payload))
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// Serialize encodes the message as <length><id><payload>. A nil
// receiver serializes to a 4-byte zero-length keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, length+4)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Read parses one framed message from r. It returns (nil, nil) on a
// keep-alive (zero-length frame).
func Read(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return &Message{ID: ID(body[0]), Payload: body[1:]}, nil
}

func (id ID) String() string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Unknown#%d", uint8(id))
	}
}

func (m *Message) String() string {
	if m == nil {
		return "KeepAlive"
	}
	return fmt.Sprintf("%s [%d]", m.ID, len(m.Payload))
}
