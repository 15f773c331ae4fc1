package download

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/cormang/gotorrent/metainfo"
	"github.com/cormang/gotorrent/piece"
)

// maxBitfieldMisses is the number of times a worker will push a piece
// back because the peer's bitfield doesn't have it before giving up on
// that peer and returning its currently-held index to the queue.
const maxBitfieldMisses = 5

// maxHashFailures bounds how many verification failures a single worker
// tolerates before exiting.
const maxHashFailures = 5

func pieceBounds(info *metainfo.Info, index int) (begin, end int64) {
	begin = int64(index) * info.PieceLength
	end = begin + info.PieceLength
	if end > info.TotalLength {
		end = info.TotalLength
	}
	return begin, end
}

func pieceLength(info *metainfo.Info, index int) int {
	begin, end := pieceBounds(info, index)
	return int(end - begin)
}

// runWorker drives one peer session end to end: claim pieces from the
// shared queue until it empties, downloading and persisting each one it
// successfully verifies. Any I/O error or quota exhaustion ends the
// worker and returns its in-hand index to the queue.
func runWorker(addr string, info *metainfo.Info, peerID [20]byte, queue *Queue, status *Status, scratchDir string) {
	sess, err := piece.Open(addr, info.InfoHash, peerID, len(info.Pieces))
	if err != nil {
		logrus.WithField("peer", addr).WithError(err).Debug("peer unavailable")
		return
	}
	defer sess.Close()

	fails := 0
	for {
		index, ok := queue.Pop()
		if !ok {
			return
		}

		if !sess.Has(index) {
			queue.Push(index)
			fails++
			if fails >= maxBitfieldMisses {
				return
			}
			continue
		}

		work := piece.Work{Index: index, Hash: info.Pieces[index], Length: pieceLength(info, index)}
		buf, err := sess.Download(work)
		if err != nil {
			logrus.WithField("peer", addr).WithField("piece", index).WithError(err).Debug("piece abandoned")
			queue.Push(index)
			fails++
			if fails >= maxHashFailures {
				return
			}
			continue
		}

		if err := persistPiece(scratchDir, index, buf); err != nil {
			logrus.WithField("piece", index).WithError(err).Error("failed to persist piece")
			queue.Push(index)
			return
		}

		sess.SendHave(index)
		status.Increment()
	}
}

// persistPiece writes a verified piece to <dir>/.<index>.
func persistPiece(dir string, index int, data []byte) error {
	path := filepath.Join(dir, fmt.Sprintf(".%d", index))
	return os.WriteFile(path, data, 0o644)
}
