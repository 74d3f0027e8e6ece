// Package piece models the work unit a peer session downloads, the
// result it produces, and the SHA-1 integrity check that guards
// assembly.
package piece

import (
	"bytes"
	"crypto/sha1"
	"fmt"
)

// MaxBlockSize is the largest block a REQUEST will ask for in one
// message.
const MaxBlockSize = 16 * 1024

// MaxBacklog is the maximum number of outstanding, unanswered REQUESTs
// a session will pipeline to a single peer.
const MaxBacklog = 5

// WorkItem describes one piece still waiting to be downloaded.
type WorkItem struct {
	Index  int
	Hash   [20]byte
	Length int
}

// Result is a downloaded and verified piece, ready for assembly.
type Result struct {
	Index int
	Buf   []byte
}

// Progress tracks an in-flight piece download against a single peer:
// how much of the piece has been received, how much has been
// requested, and how many REQUESTs are outstanding.
type Progress struct {
	Index      int
	Length     int
	Buf        []byte
	Downloaded int
	Requested  int
	Backlog    int
}

// NewProgress starts tracking a fresh download of the given work item.
func NewProgress(work *WorkItem) *Progress {
	return &Progress{
		Index:  work.Index,
		Length: work.Length,
		Buf:    make([]byte, work.Length),
	}
}

// Done reports whether the full piece has been received.
func (p *Progress) Done() bool {
	return p.Downloaded >= p.Length
}

// NextBlockSize returns the size of the next block to request, capped
// at MaxBlockSize and at whatever remains of the piece.
func (p *Progress) NextBlockSize() int {
	remaining := p.Length - p.Requested
	if remaining < MaxBlockSize {
		return remaining
	}
	return MaxBlockSize
}

// CanRequestMore reports whether another REQUEST may be pipelined
// without exceeding MaxBacklog or the piece's total length.
func (p *Progress) CanRequestMore() bool {
	return p.Backlog < MaxBacklog && p.Requested < p.Length
}

// Verify computes the SHA-1 of buf and compares it against the
// expected piece hash.
func Verify(work *WorkItem, buf []byte) error {
	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], work.Hash[:]) {
		return fmt.Errorf("piece: integrity check failed for index %d", work.Index)
	}
	return nil
}
