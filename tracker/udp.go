package tracker

import (
	"encoding/binary"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/cormang/gotorrent/metainfo"
)

// udpProtocolID is the BEP-15 magic constant identifying the connect
// request as a BitTorrent tracker protocol message.
const udpProtocolID uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
)

const udpTimeout = 20 * time.Second

// AnnounceUDP performs the BEP-15 connect+announce handshake against a
// UDP tracker.
func AnnounceUDP(announceURL *url.URL, descriptor *metainfo.Info, peerID [20]byte, port uint16) ([]PeerAddr, int, error) {
	addr, err := net.ResolveUDPAddr("udp", announceURL.Host)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(udpTimeout))

	connID, err := udpConnect(conn)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}

	conn.SetDeadline(time.Now().Add(udpTimeout))
	peers, interval, err := udpAnnounce(conn, connID, descriptor, peerID, port)
	if err != nil {
		return nil, 0, errors.Wrap(ErrUnavailable, err.Error())
	}
	return peers, interval, nil
}

// udpConnect sends the connect request and returns the connection id.
func udpConnect(conn *net.UDPConn) (uint64, error) {
	transactionID := rand.Uint32()

	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(req[8:12], actionConnect)
	binary.BigEndian.PutUint32(req[12:16], transactionID)

	if _, err := conn.Write(req); err != nil {
		return 0, err
	}

	resp := make([]byte, 16)
	n, err := conn.Read(resp)
	if err != nil {
		return 0, err
	}
	if n < 16 {
		return 0, errors.New("tracker: short udp connect response")
	}
	if binary.BigEndian.Uint32(resp[0:4]) != actionConnect {
		return 0, errors.New("tracker: unexpected udp connect action")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return 0, errors.New("tracker: udp transaction id mismatch")
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

// udpAnnounce sends the announce request and parses the reply's peer
// list, which runs from byte 20 to the end of the datagram in 6-byte
// entries.
func udpAnnounce(conn *net.UDPConn, connID uint64, descriptor *metainfo.Info, peerID [20]byte, port uint16) ([]PeerAddr, int, error) {
	transactionID := rand.Uint32()

	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connID)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], transactionID)
	copy(req[16:36], descriptor.InfoHash[:])
	copy(req[36:56], peerID[:])
	binary.BigEndian.PutUint64(req[56:64], 0) // downloaded
	binary.BigEndian.PutUint64(req[64:72], uint64(descriptor.TotalLength))
	binary.BigEndian.PutUint64(req[72:80], 0)            // uploaded
	binary.BigEndian.PutUint32(req[80:84], 0)            // event: none
	binary.BigEndian.PutUint32(req[84:88], 0)            // ip: default
	binary.BigEndian.PutUint32(req[88:92], rand.Uint32()) // key
	binary.BigEndian.PutUint32(req[92:96], 0xFFFFFFFF)    // num_want: -1
	binary.BigEndian.PutUint16(req[96:98], port)

	if _, err := conn.Write(req); err != nil {
		return nil, 0, err
	}

	resp := make([]byte, 4096)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, 0, err
	}
	if n < 20 {
		return nil, 0, errors.New("tracker: short udp announce response")
	}
	resp = resp[:n]

	if binary.BigEndian.Uint32(resp[0:4]) != actionAnnounce {
		return nil, 0, errors.New("tracker: unexpected udp announce action")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return nil, 0, errors.New("tracker: udp transaction id mismatch")
	}
	interval := int(binary.BigEndian.Uint32(resp[8:12]))

	peerBlob := resp[20:]
	peers, err := decodeCompactPeers(peerBlob[:len(peerBlob)-len(peerBlob)%6])
	if err != nil {
		return nil, 0, err
	}
	return peers, interval, nil
}
