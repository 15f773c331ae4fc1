package metainfo

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSingleFileTorrent(t *testing.T) []byte {
	t.Helper()
	// info = d6:lengthi11e4:name8:test.txt12:piece lengthi4e6:pieces20:AAAAAAAAAAAAAAAAAAAAe
	info := "d6:lengthi11e4:name8:test.txt12:piece lengthi4e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	full := "d8:announce20:http://tracker.test/4:info" + info + "e"
	return []byte(full)
}

func TestParseSingleFile(t *testing.T) {
	data := buildSingleFileTorrent(t)
	info, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)

	require.Equal(t, "http://tracker.test/", info.Announce)
	require.EqualValues(t, 4, info.PieceLength)
	require.Len(t, info.Pieces, 1)
	require.Equal(t, []FileEntry{{Path: []string{"test.txt"}, Size: 11}}, info.Files)
	require.EqualValues(t, 11, info.TotalLength)

	infoStr := "4:info"
	idx := bytes.Index(data, []byte(infoStr))
	start := idx + len(infoStr)
	end := len(data) - 1 // trailing 'e' of the outer dict
	want := sha1.Sum(data[start:end])
	require.Equal(t, want, info.InfoHash)
}

func TestParseMultiFile(t *testing.T) {
	infoDict := "d4:filesld6:lengthi3e4:pathl1:a1:beed6:lengthi5e4:pathl1:ceee4:name3:top12:piece lengthi4e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	full := []byte("d8:announce4:fake4:info" + infoDict + "e")
	info, err := Parse(bytes.NewReader(full))
	require.NoError(t, err)
	require.Equal(t, []FileEntry{
		{Path: []string{"top", "a", "b"}, Size: 3},
		{Path: []string{"top", "c"}, Size: 5},
	}, info.Files)
	require.EqualValues(t, 8, info.TotalLength)
}

func TestParseAnnounceList(t *testing.T) {
	infoDict := "d6:lengthi1e4:name1:x12:piece lengthi1e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	full := []byte("d8:announce4:fake13:announce-listll3:foo3:baree4:info" + infoDict + "e")
	info, err := Parse(bytes.NewReader(full))
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, info.AnnounceList)
}

func TestParseRejectsBadPiecesLength(t *testing.T) {
	infoDict := "d6:lengthi1e4:name1:x12:piece lengthi1e6:pieces3:abce"
	full := []byte("d8:announce4:fake4:info" + infoDict + "e")
	_, err := Parse(bytes.NewReader(full))
	require.ErrorIs(t, err, ErrBadPieces)
}

func TestParseRejectsMissingAnnounce(t *testing.T) {
	infoDict := "d6:lengthi1e4:name1:x12:piece lengthi1e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	full := []byte("d4:info" + infoDict + "e")
	_, err := Parse(bytes.NewReader(full))
	require.Error(t, err)
}
