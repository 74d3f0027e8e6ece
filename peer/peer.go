// Package peer describes a remote peer's network address, as reported
// by a tracker in either compact or dictionary form.
package peer

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

const peerSize = 6

// Peer is a peer's dialable address.
type Peer struct {
	IP   net.IP
	Port uint16
}

// String renders the peer as a host:port pair suitable for net.Dial.
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Unmarshal parses the compact peer list form: a flat byte string with
// 6 bytes per peer, 4 bytes of IPv4 address followed by a 2-byte
// big-endian port.
func Unmarshal(peersBin []byte) ([]Peer, error) {
	if len(peersBin)%peerSize != 0 {
		return nil, fmt.Errorf("peer: malformed compact peers list, length %d is not a multiple of %d", len(peersBin), peerSize)
	}

	numPeers := len(peersBin) / peerSize
	peers := make([]Peer, numPeers)
	for i := 0; i < numPeers; i++ {
		offset := i * peerSize
		peers[i].IP = net.IP(peersBin[offset : offset+4])
		peers[i].Port = binary.BigEndian.Uint16(peersBin[offset+4 : offset+6])
	}
	return peers, nil
}

// FromDict builds a Peer from the tracker's dictionary peer form,
// {"ip": <string>, "port": <integer>}, as decoded from bencode into a
// map[string]interface{}.
func FromDict(d map[string]interface{}) (Peer, error) {
	ipVal, ok := d["ip"]
	if !ok {
		return Peer{}, fmt.Errorf("peer: dictionary entry missing \"ip\"")
	}
	ipStr, ok := ipVal.(string)
	if !ok {
		return Peer{}, fmt.Errorf("peer: \"ip\" is not a string")
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Peer{}, fmt.Errorf("peer: invalid ip %q", ipStr)
	}

	portVal, ok := d["port"]
	if !ok {
		return Peer{}, fmt.Errorf("peer: dictionary entry missing \"port\"")
	}
	var port uint16
	switch v := portVal.(type) {
	case int:
		port = uint16(v)
	case int64:
		port = uint16(v)
	default:
		return Peer{}, fmt.Errorf("peer: \"port\" has unsupported type %T", v)
	}

	return Peer{IP: ip, Port: port}, nil
}
