// Package piece implements a single peer's download session: handshake,
// bitfield exchange, and the block-request loop that fills one piece at
// a time, verified by SHA-1 against the descriptor's hash.
package piece

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cormang/gotorrent/peerwire"
)

const (
	blockSize       = 16384
	maxBacklog      = 5
	readTimeout     = 20 * time.Second
	writeTimeout    = 10 * time.Second
	maxChokesPiece  = 4
	maxBlockReadTry = 20
)

// Work describes one piece to fetch: its index, expected hash, and byte
// length (the last piece in a torrent may be shorter than PieceLength).
type Work struct {
	Index  int
	Hash   [20]byte
	Length int
}

// Session is a peer connection that has completed handshake and bitfield
// exchange and is ready to serve piece requests.
type Session struct {
	conn     net.Conn
	bitfield peerwire.Bitfield
	choked   bool
	addr     string
}

// Open performs the handshake, reads the mandatory first bitfield
// message, and sends unchoke+interested, leaving the session ready to
// download. numPieces sizes the expected bitfield length.
func Open(addr string, infoHash, peerID [20]byte, numPieces int) (*Session, error) {
	conn, _, err := peerwire.Perform(addr, infoHash, peerID)
	if err != nil {
		return nil, fmt.Errorf("piece: handshake with %s: %w", addr, err)
	}

	conn.SetDeadline(time.Now().Add(readTimeout))
	msg, err := peerwire.ReadMessage(conn)
	conn.SetDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("piece: reading bitfield from %s: %w", addr, err)
	}
	expectedLen := peerwire.ExpectedLen(numPieces)
	if msg == nil || msg.ID != peerwire.MsgBitfield || len(msg.Payload) != expectedLen {
		conn.Close()
		return nil, fmt.Errorf("piece: %s did not send a conforming bitfield", addr)
	}

	sess := &Session{conn: conn, bitfield: peerwire.Bitfield(msg.Payload), choked: true, addr: addr}

	if _, err := conn.Write(peerwire.Unchoke().Serialize()); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(peerwire.Interested().Serialize()); err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// Has reports whether this peer's bitfield claims the given piece.
func (s *Session) Has(index int) bool { return s.bitfield.Has(index) }

// Close releases the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

// Download fetches and verifies one piece, issuing one request per
// 16384-byte block and pipelining up to maxBacklog requests in flight.
// It returns the verified piece bytes, or an error describing why the
// piece must be abandoned (hash mismatch, persistent choking, framing
// desync, or exhausted read attempts).
func (s *Session) Download(w Work) ([]byte, error) {
	buf := make([]byte, w.Length)
	var downloaded, requested, backlog int
	var chokes int
	var reads int

	s.conn.SetDeadline(time.Now().Add(readTimeout))
	defer s.conn.SetDeadline(time.Time{})

	for downloaded < w.Length {
		for !s.choked && backlog < maxBacklog && requested < w.Length {
			size := blockSize
			if w.Length-requested < size {
				size = w.Length - requested
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write(peerwire.Request(uint32(w.Index), uint32(requested), uint32(size)).Serialize()); err != nil {
				return nil, fmt.Errorf("piece: sending request to %s: %w", s.addr, err)
			}
			backlog++
			requested += size
		}

		if reads >= maxBlockReadTry {
			return nil, fmt.Errorf("piece: %s exceeded %d block read attempts on piece %d", s.addr, maxBlockReadTry, w.Index)
		}
		reads++

		msg, err := peerwire.ReadMessage(s.conn)
		if err != nil {
			return nil, fmt.Errorf("piece: reading from %s: %w", s.addr, err)
		}
		if msg == nil {
			continue // keep-alive
		}

		switch msg.ID {
		case peerwire.MsgChoke:
			s.choked = true
			chokes++
			if chokes >= maxChokesPiece {
				return nil, fmt.Errorf("piece: %s choked %d times mid-piece %d", s.addr, chokes, w.Index)
			}
		case peerwire.MsgUnchoke:
			s.choked = false
		case peerwire.MsgHave:
			idx, err := peerwire.ParseHave(msg)
			if err == nil {
				s.bitfield.Set(int(idx))
			}
		case peerwire.MsgPiece:
			index, offset, block, err := peerwire.ParsePiece(msg)
			if err != nil {
				return nil, fmt.Errorf("piece: parsing piece message from %s: %w", s.addr, err)
			}
			if int(index) != w.Index {
				continue
			}
			begin := int(offset)
			if begin >= len(buf) || begin+len(block) > len(buf) {
				return nil, fmt.Errorf("piece: %s sent out-of-range block for piece %d", s.addr, w.Index)
			}
			copy(buf[begin:], block)
			downloaded += len(block)
			backlog--
			reads = 0
		default:
			// interested/not_interested/cancel: no state change required.
		}
	}

	if err := verify(w, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func verify(w Work, buf []byte) error {
	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], w.Hash[:]) {
		logrus.WithField("piece", w.Index).Warn("hash mismatch")
		return fmt.Errorf("piece: hash mismatch on piece %d", w.Index)
	}
	return nil
}

// SendHave announces a completed piece to this peer.
func (s *Session) SendHave(index int) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.conn.Write(peerwire.Have(uint32(index)).Serialize())
	return err
}
