// Package handshake implements the 68-byte BitTorrent peer handshake.
package handshake

import (
	"fmt"
	"io"
)

const protocol = "BitTorrent protocol"

// Handshake is the opening exchange that establishes protocol, info
// hash, and peer id with a remote peer.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// New builds a Handshake using the standard protocol string.
func New(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     protocol,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Serialize encodes the handshake to its exact 68-byte wire form:
// pstrlen, pstr, 8 reserved bytes, info hash, peer id.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	buf[0] = byte(len(h.Pstr))
	curr := 1
	curr += copy(buf[curr:], h.Pstr)
	curr += copy(buf[curr:], make([]byte, 8))
	curr += copy(buf[curr:], h.InfoHash[:])
	copy(buf[curr:], h.PeerID[:])
	return buf
}

// Read parses a handshake from r. A pstrlen of zero is an error.
func Read(r io.Reader) (*Handshake, error) {
	lengthBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	pstrlen := int(lengthBuf[0])
	if pstrlen == 0 {
		return nil, fmt.Errorf("handshake: pstrlen cannot be 0")
	}

	rest := make([]byte, 48+pstrlen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	var infoHash, peerID [20]byte
	copy(infoHash[:], rest[pstrlen+8:pstrlen+28])
	copy(peerID[:], rest[pstrlen+28:pstrlen+48])

	return &Handshake{
		Pstr:     string(rest[0:pstrlen]),
		InfoHash: infoHash,
		PeerID:   peerID,
	}, nil
}
