package tracker

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	bencodego "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"

	"github.com/cormang/gotorrent/metainfo"
)

// httpResponse decodes the bencoded tracker reply. Peers is kept as the
// compact binary blob (multiple of 6 bytes: ip[4] || port[2] BE).
type httpResponse struct {
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
	FailureReason string `bencode:"failure reason"`
}

// AnnounceHTTP performs a single compact-peers HTTP(S) tracker announce.
func AnnounceHTTP(ctx context.Context, announceURL *url.URL, descriptor *metainfo.Info, peerID [20]byte, port uint16) ([]PeerAddr, int, error) {
	u := *announceURL
	q := u.Query()
	q.Set("compact", "1")
	q.Set("downloaded", "0")
	q.Set("uploaded", "0")
	q.Set("left", strconv.FormatInt(descriptor.TotalLength, 10))
	q.Set("port", strconv.Itoa(int(port)))
	u.RawQuery = q.Encode()
	u.RawQuery += "&info_hash=" + percentEncode(descriptor.InfoHash[:]) + "&peer_id=" + percentEncode(peerID[:])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}

	client := &http.Client{Timeout: httpAnnounceTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	var tr httpResponse
	if err := bencodego.Unmarshal(resp.Body, &tr); err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	if tr.FailureReason != "" {
		return nil, 0, errors.Wrapf(ErrUnavailable, "tracker failure: %s", tr.FailureReason)
	}

	peers, err := decodeCompactPeers([]byte(tr.Peers))
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	return peers, tr.Interval, nil
}

// decodeCompactPeers splits the compact binary peer list into addresses.
func decodeCompactPeers(blob []byte) ([]PeerAddr, error) {
	const peerSize = 6
	if len(blob)%peerSize != 0 {
		return nil, errors.New("tracker: compact peers length not a multiple of 6")
	}
	n := len(blob) / peerSize
	peers := make([]PeerAddr, n)
	for i := 0; i < n; i++ {
		off := i * peerSize
		ip := make([]byte, 4)
		copy(ip, blob[off:off+4])
		port := uint16(blob[off+4])<<8 | uint16(blob[off+5])
		peers[i] = PeerAddr{IP: ip, Port: port}
	}
	return peers, nil
}
