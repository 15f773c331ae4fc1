package bencode

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInt(t *testing.T) {
	st := &scanState{data: []byte("42e"), infoStart: -1, infoEnd: -1}
	n, err := parseInt(st)
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
	require.Equal(t, 3, st.pos)
}

func TestParseIntNegative(t *testing.T) {
	st := &scanState{data: []byte("-75637e"), infoStart: -1, infoEnd: -1}
	n, err := parseInt(st)
	require.NoError(t, err)
	require.Equal(t, int64(-75637), n)
	require.Equal(t, 7, st.pos)
}

func TestParseString(t *testing.T) {
	st := &scanState{data: []byte("4:spam"), infoStart: -1, infoEnd: -1}
	s, err := parseBytes(st)
	require.NoError(t, err)
	require.Equal(t, "spam", string(s))
	require.Equal(t, 6, st.pos)
}

func TestParseList(t *testing.T) {
	st := &scanState{data: []byte("13:parrot sketchi42ee"), infoStart: -1, infoEnd: -1}
	list, err := parseList(st)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, KindString, list[0].Kind)
	require.Equal(t, "parrot sketch", string(list[0].Str))
	require.Equal(t, KindInt, list[1].Kind)
	require.Equal(t, int64(42), list[1].Int)
	require.Equal(t, 21, st.pos)
}

func TestParseDictRecordsInfoRange(t *testing.T) {
	data := []byte("d4:info4:spam3:fooi42ee")
	_, rng, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, Range{Start: 7, End: 13}, rng)

	sum := sha1.Sum(data[rng.Start:rng.End])
	want := []byte{0x97, 0x27, 0x6d, 0xf3, 0xfe, 0x95, 0xd1, 0x01, 0xe8, 0x2c, 0x29, 0x33, 0x58, 0x21, 0x26, 0x59, 0x02, 0xa4, 0x0f, 0x90}
	require.Equal(t, want, sum[:])
}

func TestParseRejectsDuplicateKey(t *testing.T) {
	_, _, err := Parse([]byte("d1:ai1e1:ai2ee"))
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, ErrDuplicateKey, be.Kind)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, _, err := Parse([]byte("d1:ai1eegarbage"))
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, ErrTrailingGarbage, be.Kind)
}

func TestParseRequiresTopLevelDict(t *testing.T) {
	_, _, err := Parse([]byte("i42e"))
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, ErrNotADict, be.Kind)
}

func TestParseRejectsLengthOverrun(t *testing.T) {
	_, _, err := Parse([]byte("d3:foo10:shorte"))
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, ErrLengthOverrun, be.Kind)
}

func TestParseKeepsPiecesPeersRaw(t *testing.T) {
	data := []byte("d6:pieces4:\x00\x01\x02\x03e")
	v, _, err := Parse(data)
	require.NoError(t, err)
	pieces, ok := v.Get("pieces")
	require.True(t, ok)
	raw, err := pieces.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, raw)
}

func TestInfoRangeCoversValueOnly(t *testing.T) {
	// info's value is the dict "d1:xi1ee"; the range must exclude the
	// "4:info" key and the enclosing dict's terminating 'e'.
	data := []byte("d4:infod1:xi1ee3:fooi1ee")
	_, rng, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "d1:xi1ee", string(data[rng.Start:rng.End]))
}
