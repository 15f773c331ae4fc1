package download

import "sync"

// Status tracks download progress. PiecesDownloaded is monotonically
// non-decreasing; the mutex's unlock-release is what gives the
// orchestrator's post-round read a happens-before relationship with
// every worker's successful persist.
type Status struct {
	mu               sync.Mutex
	TotalPieces      int
	PiecesDownloaded int
}

// NewStatus builds a status tracker for a torrent with total pieces.
func NewStatus(total int) *Status {
	return &Status{TotalPieces: total}
}

// Increment records one more verified piece.
func (s *Status) Increment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PiecesDownloaded++
}

// Snapshot returns the current downloaded count.
func (s *Status) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PiecesDownloaded
}
