// Package peerwire implements the BitTorrent peer wire protocol: the
// 68-byte handshake and the length-prefixed message stream exchanged
// afterward (choke, unchoke, interested, have, bitfield, request, piece).
package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies a peer message's type.
type ID uint8

const (
	MsgChoke         ID = 0
	MsgUnchoke       ID = 1
	MsgInterested    ID = 2
	MsgNotInterested ID = 3
	MsgHave          ID = 4
	MsgBitfield      ID = 5
	MsgRequest       ID = 6
	MsgPiece         ID = 7
	MsgCancel        ID = 8
)

func (id ID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not_interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a single framed peer-wire message. A nil *Message returned
// from ReadMessage represents a keep-alive (zero-length frame).
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize renders the exact wire bytes: length(u32 BE) || id || payload.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Unchoke builds the 5-byte unchoke message.
func Unchoke() *Message { return &Message{ID: MsgUnchoke} }

// Interested builds the 5-byte interested message.
func Interested() *Message { return &Message{ID: MsgInterested} }

// Have builds a have message for the given piece index.
func Have(index uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return &Message{ID: MsgHave, Payload: payload}
}

// Request builds a 17-byte request message (4 length prefix bytes are
// added on Serialize, for 17 bytes total on the wire).
func Request(index, offset, length uint32) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], offset)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return &Message{ID: MsgRequest, Payload: payload}
}

// ReadMessage reads one length-prefixed frame from r: 4 bytes of length,
// then that many bytes of payload, dispatched by the leading id byte.
// A zero-length frame is a keep-alive and is reported as (nil, nil).
func ReadMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &Message{ID: ID(buf[0]), Payload: buf[1:]}, nil
}

// ErrChoked is a sentinel error for a peer's choke message. No function
// in this module returns it: the piece downloader recognises a choke by
// its message id (MsgChoke) and counts it directly.
var ErrChoked = fmt.Errorf("peerwire: peer sent choke")

// ParsePiece extracts the index, offset, and block bytes from a piece
// message. Block length equals the frame length minus 9 (index + offset).
func ParsePiece(msg *Message) (index, offset uint32, block []byte, err error) {
	if msg.ID != MsgPiece {
		return 0, 0, nil, fmt.Errorf("peerwire: expected piece message, got %s", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peerwire: piece payload too short (%d bytes)", len(msg.Payload))
	}
	index = binary.BigEndian.Uint32(msg.Payload[0:4])
	offset = binary.BigEndian.Uint32(msg.Payload[4:8])
	block = msg.Payload[8:]
	return index, offset, block, nil
}

// ParseHave extracts the piece index from a have message.
func ParseHave(msg *Message) (uint32, error) {
	if msg.ID != MsgHave {
		return 0, fmt.Errorf("peerwire: expected have message, got %s", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("peerwire: have payload must be 4 bytes, got %d", len(msg.Payload))
	}
	return binary.BigEndian.Uint32(msg.Payload), nil
}
