// Package download implements the round-based orchestrator: it builds
// the shuffled piece queue, announces to trackers, spawns one worker per
// returned peer, and repeats until either every piece is downloaded or a
// round makes no progress at all.
package download

import (
	"context"
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cormang/gotorrent/metainfo"
	"github.com/cormang/gotorrent/tracker"
)

// ErrNoProgress is returned when a whole round elapses without any
// piece being downloaded.
var ErrNoProgress = errors.New("download: no available peers")

// Options configures a Run invocation.
type Options struct {
	// ScratchDir holds the per-piece artifacts during download.
	ScratchDir string
	// OutputDir is where assembled files are written.
	OutputDir string
	// ListenPort is advertised to trackers.
	ListenPort uint16
}

// Run downloads and assembles the torrent described by info, returning
// once every file has been written to Options.OutputDir.
func Run(ctx context.Context, info *metainfo.Info, opts Options) error {
	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return errors.Wrap(err, "download: create scratch dir")
	}

	peerID := generatePeerID()
	queue := NewQueue(len(info.Pieces), mrand.New(mrand.NewSource(seed())))
	status := NewStatus(len(info.Pieces))

	for {
		peers, _, err := tracker.Announce(ctx, info, peerID, opts.ListenPort)
		if err != nil {
			return errors.Wrap(err, "download: tracker announce failed")
		}

		baseline := status.Snapshot()

		var wg sync.WaitGroup
		for _, p := range peers {
			addr := p.String()
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				runWorker(addr, info, peerID, queue, status, opts.ScratchDir)
			}(addr)
		}
		wg.Wait()

		if queue.Len() == 0 {
			return Assemble(info, opts.ScratchDir, opts.OutputDir)
		}

		if status.Snapshot() == baseline {
			return ErrNoProgress
		}

		logrus.WithField("remaining", queue.Len()).Info("round complete, re-announcing")
	}
}

// generatePeerID produces 20 random bytes for the local peer identity.
func generatePeerID() [20]byte {
	var id [20]byte
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand failure is effectively unreachable in practice;
		// fall back to a fixed prefix rather than panicking.
		copy(id[:], []byte("-GT0001-deadbeef0000"))
	}
	return id
}

// seed draws a 62-bit seed from crypto/rand for the piece-shuffle PRNG.
func seed() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return 1
	}
	return n.Int64()
}
