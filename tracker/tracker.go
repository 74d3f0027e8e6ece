// Package tracker announces to a torrent's tracker over HTTP and
// decodes the returned peer list.
package tracker

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/leonhfr/torrentcore/peer"
)

const requestTimeout = 15 * time.Second

// Request describes a single tracker announce.
type Request struct {
	AnnounceURL string
	InfoHash    [20]byte
	PeerID      [20]byte
	Port        uint16
	Uploaded    int64
	Downloaded  int64
	Left        int64
}

// Response is the decoded tracker announce response.
type Response struct {
	Interval int
	Peers    []peer.Peer
}

// buildURL appends the standard announce query parameters to the
// tracker's announce URL.
func buildURL(req *Request) (string, error) {
	base, err := url.Parse(req.AnnounceURL)
	if err != nil {
		return "", fmt.Errorf("tracker: invalid announce url: %w", err)
	}

	params := url.Values{
		"info_hash":  []string{string(req.InfoHash[:])},
		"peer_id":    []string{string(req.PeerID[:])},
		"port":       []string{strconv.Itoa(int(req.Port))},
		"uploaded":   []string{strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(req.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(req.Left, 10)},
		"compact":    []string{"0"},
	}
	base.RawQuery = params.Encode()
	return base.String(), nil
}

// AnnounceAny tries each announce URL in order, as listed in a
// torrent's metainfo (Announce, then the first URL of each
// announce-list tier), and returns the first successful response.
func AnnounceAny(urls []string, req *Request) (*Response, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("tracker: no announce urls to try")
	}

	var lastErr error
	for _, url := range urls {
		announceReq := *req
		announceReq.AnnounceURL = url
		resp, err := Announce(&announceReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("tracker: all %d announce urls failed, last error: %w", len(urls), lastErr)
}

// Announce performs one HTTP GET against the tracker's announce URL
// and decodes the bencoded response. The tracker is expected to reply
// with the dictionary peers form; the compact form is also accepted.
func Announce(req *Request) (*Response, error) {
	announceURL, err := buildURL(req)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: requestTimeout}
	httpResp, err := client.Get(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("tracker: unexpected status %d: %s", httpResp.StatusCode, body)
	}

	var decoded interface{}
	if err := bencode.Unmarshal(httpResp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("tracker: decoding response: %w", err)
	}

	dict, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("tracker: response is not a dictionary")
	}

	if reason, ok := dict["failure reason"]; ok {
		return nil, fmt.Errorf("tracker: failure: %v", reason)
	}

	resp := &Response{}
	switch v := dict["interval"].(type) {
	case int:
		resp.Interval = v
	case int64:
		resp.Interval = int(v)
	}

	peers, err := parsePeers(dict["peers"])
	if err != nil {
		return nil, err
	}
	resp.Peers = peers

	return resp, nil
}

// parsePeers accepts either the dictionary peers form (a list of
// {"ip","port"} dicts, required by this client) or the compact form
// (a flat byte string, accepted as an additive extension).
func parsePeers(raw interface{}) ([]peer.Peer, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return peer.Unmarshal([]byte(v))
	case []interface{}:
		peers := make([]peer.Peer, 0, len(v))
		for _, entry := range v {
			dict, ok := entry.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("tracker: peer list entry is not a dictionary")
			}
			p, err := peer.FromDict(dict)
			if err != nil {
				return nil, err
			}
			peers = append(peers, p)
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("tracker: unsupported \"peers\" type %T", v)
	}
}
