package download

import (
	"context"
	"crypto/sha1"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cormang/gotorrent/metainfo"
	"github.com/cormang/gotorrent/peerwire"
)

// servePeer runs a minimal conforming peer that serves every piece of
// data from the given map, keyed by piece index.
func servePeer(t *testing.T, infoHash [20]byte, numPieces int, pieces map[int][]byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				hs, err := peerwire.ReadHandshake(conn)
				if err != nil || hs.InfoHash != infoHash {
					return
				}
				var remotePeerID [20]byte
				conn.Write(peerwire.NewHandshake(infoHash, remotePeerID).Serialize())

				bf := make(peerwire.Bitfield, peerwire.ExpectedLen(numPieces))
				for i := 0; i < numPieces; i++ {
					bf.Set(i)
				}
				conn.Write((&peerwire.Message{ID: peerwire.MsgBitfield, Payload: bf}).Serialize())

				peerwire.ReadMessage(conn) // unchoke
				peerwire.ReadMessage(conn) // interested
				conn.Write(peerwire.Unchoke().Serialize())

				for {
					msg, err := peerwire.ReadMessage(conn)
					if err != nil {
						return
					}
					if msg == nil || msg.ID != peerwire.MsgRequest {
						continue
					}
					index, offset, length, ok := decodeRequest(msg)
					if !ok {
						return
					}
					data := pieces[index][offset : offset+length]
					payload := make([]byte, 0, 8+len(data))
					idxBuf := msg.Payload[0:8]
					payload = append(payload, idxBuf...)
					payload = append(payload, data...)
					conn.Write((&peerwire.Message{ID: peerwire.MsgPiece, Payload: payload}).Serialize())
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func decodeRequest(msg *peerwire.Message) (index, offset, length int, ok bool) {
	if len(msg.Payload) != 12 {
		return 0, 0, 0, false
	}
	be := func(b []byte) int {
		return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	}
	return be(msg.Payload[0:4]), be(msg.Payload[4:8]), be(msg.Payload[8:12]), true
}

func TestRunDownloadsAndAssembles(t *testing.T) {
	pieceLen := 8
	piece0 := []byte("AAAAAAAA")
	piece1 := []byte("BBBBBBBB")
	pieces := map[int][]byte{0: piece0, 1: piece1}

	hash0 := sha1.Sum(piece0)
	hash1 := sha1.Sum(piece1)

	var infoHash [20]byte
	infoHash[0] = 0x42

	info := &metainfo.Info{
		PieceLength: int64(pieceLen),
		Pieces:      [][20]byte{hash0, hash1},
		Files:       []metainfo.FileEntry{{Path: []string{"out.bin"}, Size: int64(len(piece0) + len(piece1))}},
		InfoHash:    infoHash,
		TotalLength: int64(len(piece0) + len(piece1)),
	}

	peerAddr := servePeer(t, infoHash, 2, pieces)

	trackerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, portStr, _ := net.SplitHostPort(peerAddr)
		ip := net.ParseIP(host).To4()
		var port int
		for _, c := range portStr {
			port = port*10 + int(c-'0')
		}
		compact := append(append([]byte{}, ip...), byte(port>>8), byte(port))
		w.Write([]byte("d8:intervali1800e5:peers6:" + string(compact) + "e"))
	}))
	defer trackerSrv.Close()
	info.Announce = trackerSrv.URL

	scratch := t.TempDir()
	out := t.TempDir()

	err := Run(context.Background(), info, Options{ScratchDir: scratch, OutputDir: out, ListenPort: 6881})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(out, "out.bin"))
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, piece0...), piece1...), got)
}
