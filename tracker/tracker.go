// Package tracker announces a torrent's progress to HTTP and UDP/BEP-15
// trackers in parallel and returns the peer list of the first tracker
// that answers successfully.
package tracker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cormang/gotorrent/metainfo"
)

// PeerAddr is an IPv4 peer address as returned by a tracker.
type PeerAddr struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// ErrUnavailable classifies a single tracker's failure (timeout, bad
// response, unsupported scheme); other announce URLs may still succeed.
var ErrUnavailable = errors.New("tracker: unavailable")

// announceResult is one tracker's outcome.
type announceResult struct {
	peers    []PeerAddr
	interval int
	err      error
	url      string
}

// Announce queries every announce URL on descriptor (the primary
// Announce plus AnnounceList) in parallel and returns the first
// successful peer list. Failed trackers are logged and skipped.
func Announce(ctx context.Context, descriptor *metainfo.Info, peerID [20]byte, port uint16) ([]PeerAddr, int, error) {
	urls := uniqueURLs(descriptor)
	if len(urls) == 0 {
		return nil, 0, errors.New("tracker: no announce URLs")
	}

	results := make(chan announceResult, len(urls))
	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(announceURL string) {
			defer wg.Done()
			peers, interval, err := announceOne(ctx, announceURL, descriptor, peerID, port)
			results <- announceResult{peers: peers, interval: interval, err: err, url: announceURL}
		}(u)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for res := range results {
		if res.err != nil {
			logrus.WithField("tracker", res.url).WithError(res.err).Warn("tracker announce failed")
			lastErr = res.err
			continue
		}
		return res.peers, res.interval, nil
	}
	if lastErr == nil {
		lastErr = ErrUnavailable
	}
	return nil, 0, errors.Wrap(lastErr, "tracker: all announces failed")
}

func uniqueURLs(descriptor *metainfo.Info) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}
	add(descriptor.Announce)
	for _, u := range descriptor.AnnounceList {
		add(u)
	}
	return urls
}

func announceOne(ctx context.Context, announceURL string, descriptor *metainfo.Info, peerID [20]byte, port uint16) ([]PeerAddr, int, error) {
	parsed, err := url.Parse(announceURL)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	switch parsed.Scheme {
	case "http", "https":
		return AnnounceHTTP(ctx, parsed, descriptor, peerID, port)
	case "udp", "udp4", "udp6":
		return AnnounceUDP(parsed, descriptor, peerID, port)
	default:
		return nil, 0, errors.Wrapf(ErrUnavailable, "unsupported tracker scheme %q", parsed.Scheme)
	}
}

// percentEncode renders each byte as "%" + two uppercase hex digits, so
// the resulting string has length 3*len(b).
func percentEncode(b []byte) string {
	out := make([]byte, 0, 3*len(b))
	for _, v := range b {
		out = append(out, []byte(fmt.Sprintf("%%%02X", v))...)
	}
	return string(out)
}

const httpAnnounceTimeout = 20 * time.Second
