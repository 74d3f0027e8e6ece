// Package metainfo parses single-file .torrent metainfo dictionaries
// (BEP 3) into the Torrent Descriptor the rest of the module consumes.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"
)

// rawFile mirrors the top-level bencoded dictionary of a .torrent file.
type rawFile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         rawInfo    `bencode:"info"`
}

// rawInfo mirrors the "info" sub-dictionary.
type rawInfo struct {
	PieceLength int    `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int    `bencode:"length"`
}

const pieceHashLen = 20

// Torrent is a parsed, validated single-file torrent descriptor.
type Torrent struct {
	Announce string
	// AnnounceURLs is the ordered list of announce URLs to try: Announce
	// first, then the first URL of each announce-list tier (BEP 12).
	AnnounceURLs []string
	InfoHash     [20]byte
	PieceHashes  [][20]byte
	PieceLength  int
	Length       int
	Name         string
}

// Parse decodes a .torrent file's bytes into a Torrent, computing the
// info hash by re-encoding the decoded info dictionary and hashing it.
func Parse(r io.Reader) (*Torrent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading torrent data: %w", err)
	}

	var raw rawFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, fmt.Errorf("metainfo: decoding torrent: %w", err)
	}

	if raw.Announce == "" {
		return nil, fmt.Errorf("metainfo: missing required \"announce\"")
	}
	if raw.Info.PieceLength <= 0 {
		return nil, fmt.Errorf("metainfo: missing or invalid \"piece length\"")
	}
	if raw.Info.Name == "" {
		return nil, fmt.Errorf("metainfo: missing required \"name\"")
	}
	if raw.Info.Length <= 0 {
		return nil, fmt.Errorf("metainfo: \"length\" must be positive (multi-file torrents are not supported)")
	}
	if len(raw.Info.Pieces)%pieceHashLen != 0 {
		return nil, fmt.Errorf("metainfo: malformed \"pieces\", length %d is not a multiple of %d", len(raw.Info.Pieces), pieceHashLen)
	}

	// The info hash is taken over the generically decoded info
	// dictionary, so keys rawInfo does not model stay in the hashed
	// bytes. jackpal/bencode-go serializes dict keys in canonical
	// (sorted) order, so re-marshaling reproduces the same bytes the
	// original info dictionary bencoded to.
	generic, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("metainfo: decoding torrent: %w", err)
	}
	top, ok := generic.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("metainfo: torrent is not a dictionary")
	}
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, top["info"]); err != nil {
		return nil, fmt.Errorf("metainfo: re-encoding info dict for hash: %w", err)
	}
	infoHash := sha1.Sum(buf.Bytes())

	numPieces := len(raw.Info.Pieces) / pieceHashLen
	pieceHashes := make([][20]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		copy(pieceHashes[i][:], raw.Info.Pieces[i*pieceHashLen:(i+1)*pieceHashLen])
	}

	return &Torrent{
		Announce:     raw.Announce,
		AnnounceURLs: announceURLs(raw),
		InfoHash:     infoHash,
		PieceHashes:  pieceHashes,
		PieceLength:  raw.Info.PieceLength,
		Length:       raw.Info.Length,
		Name:         raw.Info.Name,
	}, nil
}

// announceURLs builds the ordered fallback list: Announce first, then
// the first URL of each announce-list tier, per BEP 12. Duplicates are
// dropped while preserving the fallback order.
func announceURLs(raw rawFile) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		urls = append(urls, url)
	}

	add(raw.Announce)
	for _, tier := range raw.AnnounceList {
		if len(tier) == 0 {
			continue
		}
		add(tier[0])
	}
	return urls
}

// PieceLen returns the length in bytes of piece index, accounting for
// the final, possibly shorter, piece.
func (t *Torrent) PieceLen(index int) int {
	begin := index * t.PieceLength
	end := begin + t.PieceLength
	if end > t.Length {
		end = t.Length
	}
	return end - begin
}
