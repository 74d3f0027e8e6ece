package tracker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveBencode(t *testing.T, status int, body interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if body == nil {
			return
		}
		require.NoError(t, bencode.Marshal(w, body))
	}))
}

func TestAnnounceDictionaryPeers(t *testing.T) {
	srv := serveBencode(t, http.StatusOK, map[string]interface{}{
		"interval": 1800,
		"peers": []interface{}{
			map[string]interface{}{"ip": "1.2.3.4", "port": 6881},
			map[string]interface{}{"ip": "5.6.7.8", "port": 6882},
		},
	})
	defer srv.Close()

	resp, err := Announce(&Request{AnnounceURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 2)
	assert.Equal(t, "1.2.3.4:6881", resp.Peers[0].String())
	assert.Equal(t, "5.6.7.8:6882", resp.Peers[1].String())
}

func TestAnnounceCompactPeers(t *testing.T) {
	compact := string([]byte{127, 0, 0, 1, 0x1A, 0xE1})
	srv := serveBencode(t, http.StatusOK, map[string]interface{}{
		"interval": 900,
		"peers":    compact,
	})
	defer srv.Close()

	resp, err := Announce(&Request{AnnounceURL: srv.URL})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1:6881", resp.Peers[0].String())
}

func TestAnnounceFailureReason(t *testing.T) {
	srv := serveBencode(t, http.StatusOK, map[string]interface{}{
		"failure reason": "unregistered torrent",
	})
	defer srv.Close()

	_, err := Announce(&Request{AnnounceURL: srv.URL})
	assert.Error(t, err)
}

func TestAnnounceNonOKStatus(t *testing.T) {
	srv := serveBencode(t, http.StatusInternalServerError, nil)
	defer srv.Close()

	_, err := Announce(&Request{AnnounceURL: srv.URL})
	assert.Error(t, err)
}

func TestAnnounceInvalidURL(t *testing.T) {
	_, err := Announce(&Request{AnnounceURL: "://bad-url"})
	assert.Error(t, err)
}

func TestBuildURLEncodesBinaryInfoHash(t *testing.T) {
	req := &Request{
		AnnounceURL: "http://tracker.example.com/announce",
		InfoHash:    [20]byte{0xde, 0xad, 0xbe, 0xef},
		PeerID:      [20]byte{1},
		Port:        6881,
	}
	raw, err := buildURL(req)
	require.NoError(t, err)
	assert.Contains(t, raw, "info_hash=%DE%AD%BE%EF")
	assert.Contains(t, raw, "port=6881")
}

func TestAnnounceNoPeersField(t *testing.T) {
	srv := serveBencode(t, http.StatusOK, map[string]interface{}{"interval": 60})
	defer srv.Close()

	resp, err := Announce(&Request{AnnounceURL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, resp.Peers)
}

func TestAnnounceAnyFallsBackToNextURL(t *testing.T) {
	good := serveBencode(t, http.StatusOK, map[string]interface{}{
		"interval": 1800,
		"peers": []interface{}{
			map[string]interface{}{"ip": "1.2.3.4", "port": 6881},
		},
	})
	defer good.Close()

	urls := []string{"://bad-url", good.URL}
	resp, err := AnnounceAny(urls, &Request{})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "1.2.3.4:6881", resp.Peers[0].String())
}

func TestAnnounceAnyAllFail(t *testing.T) {
	dead := serveBencode(t, http.StatusInternalServerError, nil)
	dead.Close() // closed immediately: connection refused

	_, err := AnnounceAny([]string{dead.URL}, &Request{})
	assert.Error(t, err)
}

func TestAnnounceAnyNoURLs(t *testing.T) {
	_, err := AnnounceAny(nil, &Request{})
	assert.Error(t, err)
}
