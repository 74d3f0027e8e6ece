// Package torrent implements the download coordinator: it fans work
// out to one session per peer, collects verified pieces back on a
// results queue, and assembles them into the final file.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leonhfr/torrentcore/metainfo"
	"github.com/leonhfr/torrentcore/peer"
	"github.com/leonhfr/torrentcore/piece"
	"github.com/leonhfr/torrentcore/session"
	"github.com/leonhfr/torrentcore/tracker"
)

const outputFileMode = 0o644

// defaultClientPort is the port advertised to trackers in the standard
// BitTorrent client port range (6881-6889).
const defaultClientPort = 6881

// Config tunes the coordinator's resource limits and the per-session
// network timeouts it hands down to each worker.
type Config struct {
	// MaxPeers caps how many peers the coordinator will dial
	// concurrently. 0 means no cap: one worker per discovered peer.
	MaxPeers int
	// Session is passed through to every session.Dial call.
	Session session.Config
}

// DefaultConfig returns sensible defaults for most single-file downloads.
func DefaultConfig() Config {
	return Config{
		MaxPeers: 50,
		Session:  session.DefaultConfig(),
	}
}

// Torrent is a single-file download: the parsed metainfo plus the
// peer swarm a tracker announce returned.
type Torrent struct {
	Info   *metainfo.Torrent
	PeerID [20]byte
	Peers  []peer.Peer
}

// New announces to the trackers listed in info.AnnounceURLs, in order,
// until one responds, and returns a Torrent ready to Download from the
// peers it supplied.
func New(info *metainfo.Torrent, peerID [20]byte) (*Torrent, error) {
	resp, err := tracker.AnnounceAny(info.AnnounceURLs, &tracker.Request{
		InfoHash: info.InfoHash,
		PeerID:   peerID,
		Port:     defaultClientPort,
		Left:     int64(info.Length),
	})
	if err != nil {
		return nil, fmt.Errorf("torrent: announcing: %w", err)
	}

	return &Torrent{
		Info:   info,
		PeerID: peerID,
		Peers:  resp.Peers,
	}, nil
}

// Download runs the coordinator to completion: it spawns one worker
// per peer (capped at cfg.MaxPeers), each pulling work items off a
// shared queue and pushing verified results back, until every piece
// has been downloaded or every peer's session has died. On success the
// assembled buffer is written to outputPath in a single pass before it
// is returned.
func (t *Torrent) Download(ctx context.Context, outputPath string, cfg Config) ([]byte, error) {
	if len(t.Peers) == 0 {
		return nil, fmt.Errorf("torrent: no peers to download from")
	}

	peers := t.Peers
	if cfg.MaxPeers > 0 && len(peers) > cfg.MaxPeers {
		peers = peers[:cfg.MaxPeers]
	}

	numPieces := len(t.Info.PieceHashes)
	workQueue := make(chan *piece.WorkItem, numPieces)
	results := make(chan *piece.Result)

	for index, hash := range t.Info.PieceHashes {
		workQueue <- &piece.WorkItem{
			Index:  index,
			Hash:   hash,
			Length: t.Info.PieceLen(index),
		}
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var activeWorkers int32 = int32(len(peers))

	group, groupCtx := errgroup.WithContext(workerCtx)
	for _, p := range peers {
		p := p
		group.Go(func() error {
			defer func() {
				if atomic.AddInt32(&activeWorkers, -1) == 0 {
					close(results)
				}
			}()
			t.runWorker(groupCtx, p, cfg.Session, workQueue, results)
			return nil
		})
	}

	buf := make([]byte, t.Info.Length)
	seen := make([]bool, numPieces)
	done := 0

	for done < numPieces {
		res, ok := <-results
		if !ok {
			break // every peer session ended before the download finished
		}
		if seen[res.Index] {
			// A slow peer finished a piece another peer already delivered.
			continue
		}
		seen[res.Index] = true
		begin, end := t.bounds(res.Index)
		copy(buf[begin:end], res.Buf)
		done++
		logrus.WithFields(logrus.Fields{
			"piece": res.Index,
			"done":  done,
			"total": numPieces,
		}).Debug("piece assembled")
	}

	// Either every piece is assembled or every worker has already
	// exited; release any workers still blocked waiting on work or
	// trying to hand off a result.
	stopWorkers()
	group.Wait()

	if done < numPieces {
		return nil, fmt.Errorf("torrent: download incomplete, %d/%d pieces: all peer sessions ended before finishing", done, numPieces)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, buf, outputFileMode); err != nil {
			return nil, fmt.Errorf("torrent: writing output file: %w", err)
		}
	}

	return buf, nil
}

// runWorker drives one peer's session: dial, handshake, then pull
// work items off the queue until the queue is drained, the context is
// cancelled, or the session dies. Work items that cannot be completed
// are put back on the queue for another peer to pick up.
func (t *Torrent) runWorker(ctx context.Context, p peer.Peer, sessionCfg session.Config, workQueue chan *piece.WorkItem, results chan<- *piece.Result) {
	log := logrus.WithField("peer", p.String())

	sess, err := session.Dial(p, t.PeerID, t.Info.InfoHash, sessionCfg)
	if err != nil {
		log.WithError(err).Debug("could not establish session")
		return
	}
	defer sess.Close()

	if err := sess.SendUnchoke(); err != nil {
		log.WithError(err).Debug("session died sending unchoke")
		return
	}
	if err := sess.SendInterested(); err != nil {
		log.WithError(err).Debug("session died sending interested")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-workQueue:
			if !ok {
				return
			}
			if !sess.HasPiece(work.Index) {
				workQueue <- work
				continue
			}

			result, err := sess.DownloadPiece(work)
			if err != nil {
				workQueue <- work
				var sessErr *session.Error
				if errors.As(err, &sessErr) && sessErr.Kind == session.KindIntegrity {
					log.WithError(err).Warn("discarding corrupt piece")
					continue
				}
				log.WithError(err).Debug("session died mid-download, terminating worker")
				return
			}

			if err := sess.SendHave(work.Index); err != nil {
				workQueue <- work
				log.WithError(err).Debug("session died announcing have")
				return
			}

			select {
			case results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Torrent) bounds(index int) (int, int) {
	begin := index * t.Info.PieceLength
	end := begin + t.Info.PieceLen(index)
	return begin, end
}
