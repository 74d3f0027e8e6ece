// Package session drives a single peer connection through its
// lifecycle: dialing, handshaking, exchanging the initial bitfield,
// and then pipelining piece downloads until the peer disconnects or
// the session is closed.
package session

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leonhfr/torrentcore/bitfield"
	"github.com/leonhfr/torrentcore/handshake"
	"github.com/leonhfr/torrentcore/message"
	"github.com/leonhfr/torrentcore/peer"
	"github.com/leonhfr/torrentcore/piece"
)

// State is a position in the peer session's lifecycle.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateHandshaking
	StateAwaitingBitfield
	StateReadyToUnchoke
	StateWorking
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAwaitingBitfield:
		return "AWAITING_BITFIELD"
	case StateReadyToUnchoke:
		return "READY_TO_UNCHOKE"
	case StateWorking:
		return "WORKING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// ErrorKind classifies a session failure for the coordinator's
// recoverable/fatal decision.
type ErrorKind int

const (
	KindConnect ErrorKind = iota
	KindHandshakeMismatch
	KindProtocol
	KindIO
	KindIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "CONNECT"
	case KindHandshakeMismatch:
		return "HANDSHAKE_MISMATCH"
	case KindProtocol:
		return "PROTOCOL"
	case KindIO:
		return "IO"
	case KindIntegrity:
		return "INTEGRITY"
	default:
		return "UNKNOWN"
	}
}

// Error is a typed session failure. CONNECT and HANDSHAKE_MISMATCH are
// fatal to the peer before any work is attempted; IO and PROTOCOL
// errors mid-session terminate that peer's session but are recoverable
// at the coordinator level; INTEGRITY failures discard the piece but
// do not terminate the session.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Config tunes a session's network timeouts. Use DefaultConfig for
// sensible values; a zero Config falls back to those defaults field by
// field.
type Config struct {
	// ConnectTimeout bounds the initial TCP dial.
	ConnectTimeout time.Duration
	// HandshakeDeadline bounds writing and reading the 68-byte handshake.
	HandshakeDeadline time.Duration
	// BitfieldDeadline bounds waiting for the peer's initial BITFIELD.
	BitfieldDeadline time.Duration
	// IODeadline bounds one DownloadPiece attempt; a peer that stalls
	// past this is treated as a dead session and its work reassigned.
	IODeadline time.Duration
}

// DefaultConfig returns the timeouts this package used before they were
// made configurable.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    3 * time.Second,
		HandshakeDeadline: 3 * time.Second,
		BitfieldDeadline:  5 * time.Second,
		IODeadline:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeDeadline == 0 {
		c.HandshakeDeadline = d.HandshakeDeadline
	}
	if c.BitfieldDeadline == 0 {
		c.BitfieldDeadline = d.BitfieldDeadline
	}
	if c.IODeadline == 0 {
		c.IODeadline = d.IODeadline
	}
	return c
}

// Session is one peer connection, tracked through its explicit state
// machine.
type Session struct {
	conn     net.Conn
	peerAddr peer.Peer
	infoHash [20]byte
	peerID   [20]byte
	cfg      Config

	state    State
	choked   bool
	bitfield bitfield.Bitfield

	log *logrus.Entry
}

// Dial connects to a peer, completes the handshake, and waits for its
// initial BITFIELD, advancing the session through INIT -> CONNECTING
// -> HANDSHAKING -> AWAITING_BITFIELD -> READY_TO_UNCHOKE.
func Dial(p peer.Peer, peerID, infoHash [20]byte, cfg Config) (*Session, error) {
	s := &Session{
		peerAddr: p,
		infoHash: infoHash,
		peerID:   peerID,
		cfg:      cfg.withDefaults(),
		state:    StateInit,
		choked:   true,
		log:      logrus.WithField("peer", p.String()),
	}

	if err := s.connect(); err != nil {
		return nil, err
	}
	if err := s.handshake(); err != nil {
		s.conn.Close()
		return nil, err
	}
	if err := s.awaitBitfield(); err != nil {
		s.conn.Close()
		return nil, err
	}

	s.state = StateReadyToUnchoke
	s.log.Debug("session ready")
	return s, nil
}

func (s *Session) connect() error {
	s.state = StateConnecting
	conn, err := net.DialTimeout("tcp", s.peerAddr.String(), s.cfg.ConnectTimeout)
	if err != nil {
		return wrap(KindConnect, err)
	}
	s.conn = conn
	return nil
}

func (s *Session) handshake() error {
	s.state = StateHandshaking
	s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeDeadline))
	defer s.conn.SetDeadline(time.Time{})

	req := handshake.New(s.infoHash, s.peerID)
	if _, err := s.conn.Write(req.Serialize()); err != nil {
		return wrap(KindIO, err)
	}

	resp, err := handshake.Read(s.conn)
	if err != nil {
		return wrap(KindIO, err)
	}
	if !bytes.Equal(resp.InfoHash[:], s.infoHash[:]) {
		return wrap(KindHandshakeMismatch, fmt.Errorf("expected info hash %x, got %x", s.infoHash, resp.InfoHash))
	}
	return nil
}

func (s *Session) awaitBitfield() error {
	s.state = StateAwaitingBitfield
	s.conn.SetDeadline(time.Now().Add(s.cfg.BitfieldDeadline))
	defer s.conn.SetDeadline(time.Time{})

	msg, err := message.Read(s.conn)
	if err != nil {
		return wrap(KindIO, err)
	}
	if msg == nil {
		return wrap(KindProtocol, fmt.Errorf("expected BITFIELD, got keep-alive"))
	}
	if msg.ID != message.Bitfield {
		return wrap(KindProtocol, fmt.Errorf("expected BITFIELD (id %d), got id %d", message.Bitfield, msg.ID))
	}
	s.bitfield = bitfield.Bitfield(msg.Payload)
	return nil
}

// HasPiece reports whether the peer has advertised piece index.
func (s *Session) HasPiece(index int) bool {
	return s.bitfield.HasPiece(index)
}

// Choked reports whether the peer is currently choking us.
func (s *Session) Choked() bool {
	return s.choked
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Close terminates the underlying connection.
func (s *Session) Close() error {
	s.state = StateTerminated
	return s.conn.Close()
}

func (s *Session) send(m *message.Message) error {
	_, err := s.conn.Write(m.Serialize())
	return wrap(KindIO, err)
}

// SendUnchoke tells the peer we will not choke it.
func (s *Session) SendUnchoke() error {
	return s.send(&message.Message{ID: message.Unchoke})
}

// SendInterested declares interest in the peer's pieces.
func (s *Session) SendInterested() error {
	return s.send(&message.Message{ID: message.Interested})
}

// SendNotInterested retracts interest.
func (s *Session) SendNotInterested() error {
	return s.send(&message.Message{ID: message.NotInterested})
}

// SendHave announces possession of a completed piece.
func (s *Session) SendHave(index int) error {
	return s.send(message.NewHave(index))
}

// DownloadPiece pipelines REQUESTs for work and blocks until the full
// piece is received and verified, or an error terminates the attempt.
// The session moves to WORKING for the duration of the call.
func (s *Session) DownloadPiece(work *piece.WorkItem) (*piece.Result, error) {
	s.state = StateWorking
	s.conn.SetDeadline(time.Now().Add(s.cfg.IODeadline))
	defer s.conn.SetDeadline(time.Time{})

	progress := piece.NewProgress(work)

	for !progress.Done() {
		if !s.choked {
			for progress.CanRequestMore() {
				blockSize := progress.NextBlockSize()
				req := message.NewRequest(work.Index, progress.Requested, blockSize)
				if err := s.send(req); err != nil {
					return nil, err
				}
				progress.Backlog++
				progress.Requested += blockSize
			}
		}
		if err := s.readPieceMessage(progress); err != nil {
			return nil, err
		}
	}

	if err := piece.Verify(work, progress.Buf); err != nil {
		return nil, wrap(KindIntegrity, err)
	}

	return &piece.Result{Index: work.Index, Buf: progress.Buf}, nil
}

func (s *Session) readPieceMessage(progress *piece.Progress) error {
	msg, err := message.Read(s.conn)
	if err != nil {
		return wrap(KindIO, err)
	}
	if msg == nil {
		return nil
	}

	switch msg.ID {
	case message.Unchoke:
		s.choked = false
	case message.Choke:
		s.choked = true
	case message.Have:
		index, err := msg.ParseHave()
		if err != nil {
			return wrap(KindProtocol, err)
		}
		s.bitfield.SetPiece(index)
	case message.Piece:
		n, err := msg.ParsePiece(progress.Index, progress.Buf)
		if err != nil {
			return wrap(KindProtocol, err)
		}
		progress.Downloaded += n
		progress.Backlog--
	default:
		s.log.WithField("id", msg.ID).Debug("ignoring unsolicited message")
	}
	return nil
}
