package peerwire

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultProtocol is the protocol string used by BEP-3 peers.
const DefaultProtocol = "BitTorrent protocol"

// ConnectTimeout bounds the initial TCP connect to a peer.
const ConnectTimeout = 3 * time.Second

// Handshake is the 68-byte greeting exchanged before any peer message.
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a handshake using the default protocol string.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{Pstr: DefaultProtocol, InfoHash: infoHash, PeerID: peerID}
}

// Serialize renders [pstrlen][pstr][8 zero bytes][info_hash][peer_id].
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	cursor := 1
	buf[0] = byte(len(h.Pstr))
	cursor += copy(buf[cursor:], h.Pstr)
	cursor += copy(buf[cursor:], make([]byte, 8))
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads a handshake frame symmetrically with Serialize.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lenBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	pstrlen := int(lenBuf[0])
	rest := make([]byte, pstrlen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	h := &Handshake{Pstr: string(rest[:pstrlen])}
	cursor := pstrlen + 8
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return h, nil
}

// Perform dials addr, completes the handshake, and verifies the remote
// info-hash echoes ours byte-for-byte. On success the connection is
// returned ready for message exchange; on any failure the connection
// (if opened) is closed.
func Perform(addr string, infoHash, peerID [20]byte) (net.Conn, *Handshake, error) {
	conn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return nil, nil, err
	}

	conn.SetDeadline(time.Now().Add(ConnectTimeout))
	defer conn.SetDeadline(time.Time{})

	req := NewHandshake(infoHash, peerID)
	if _, err := conn.Write(req.Serialize()); err != nil {
		conn.Close()
		return nil, nil, err
	}

	resp, err := ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if !bytes.Equal(resp.InfoHash[:], infoHash[:]) {
		conn.Close()
		return nil, nil, fmt.Errorf("peerwire: info-hash mismatch, expected %x got %x", infoHash, resp.InfoHash)
	}
	return conn, resp, nil
}
