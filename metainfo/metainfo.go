// Package metainfo projects a parsed bencode tree into the typed torrent
// descriptor the rest of the client consumes.
package metainfo

import (
	"crypto/sha1"
	"io"

	"github.com/pkg/errors"

	"github.com/cormang/gotorrent/bencode"
)

const hashLen = 20

// FileEntry is one file described by the torrent, in descriptor order.
type FileEntry struct {
	Path []string
	Size int64
}

// Info is the immutable, typed projection of a .torrent file.
type Info struct {
	PieceLength  int64
	Pieces       [][hashLen]byte
	Files        []FileEntry
	Announce     string
	AnnounceList []string
	InfoHash     [hashLen]byte
	TotalLength  int64
}

// ErrMissingField is wrapped when a mandatory key is absent.
var ErrMissingField = errors.New("metainfo: missing field")

// ErrWrongTag is wrapped when a key has a value of the wrong bencode kind.
var ErrWrongTag = errors.New("metainfo: wrong tag")

// ErrBadPieces is returned when the pieces string length is not a
// multiple of 20.
var ErrBadPieces = errors.New("metainfo: pieces length not a multiple of 20")

// Parse reads a whole .torrent file and extracts its descriptor.
func Parse(r io.Reader) (*Info, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: read torrent file")
	}
	tree, infoRange, err := bencode.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: parse bencode")
	}
	if infoRange == (bencode.Range{}) {
		return nil, errors.Wrap(ErrMissingField, "info")
	}
	infoHash := sha1.Sum(raw[infoRange.Start:infoRange.End])
	return extract(tree, infoHash)
}

func extract(tree bencode.Value, infoHash [hashLen]byte) (*Info, error) {
	infoVal, ok := tree.Get("info")
	if !ok || infoVal.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrMissingField, "info")
	}

	pieceLength, err := requiredInt(infoVal, "piece length")
	if err != nil {
		return nil, err
	}

	piecesVal, ok := infoVal.Get("pieces")
	if !ok {
		return nil, errors.Wrap(ErrMissingField, "info.pieces")
	}
	piecesRaw, err := piecesVal.Bytes()
	if err != nil {
		return nil, errors.Wrap(ErrWrongTag, "info.pieces")
	}
	if len(piecesRaw)%hashLen != 0 {
		return nil, ErrBadPieces
	}
	pieces := make([][hashLen]byte, len(piecesRaw)/hashLen)
	for i := range pieces {
		copy(pieces[i][:], piecesRaw[i*hashLen:(i+1)*hashLen])
	}

	name, err := requiredString(infoVal, "name")
	if err != nil {
		return nil, err
	}

	files, total, err := extractFiles(infoVal, name)
	if err != nil {
		return nil, err
	}

	announce, err := requiredString(tree, "announce")
	if err != nil {
		return nil, err
	}

	announceList := extractAnnounceList(tree)

	return &Info{
		PieceLength:  pieceLength,
		Pieces:       pieces,
		Files:        files,
		Announce:     announce,
		AnnounceList: announceList,
		InfoHash:     infoHash,
		TotalLength:  total,
	}, nil
}

func extractFiles(infoVal bencode.Value, name string) ([]FileEntry, int64, error) {
	if filesVal, ok := infoVal.Get("files"); ok {
		items, err := filesVal.Items()
		if err != nil {
			return nil, 0, errors.Wrap(ErrWrongTag, "info.files")
		}
		files := make([]FileEntry, 0, len(items))
		var total int64
		for _, item := range items {
			length, err := requiredInt(item, "length")
			if err != nil {
				return nil, 0, err
			}
			pathVal, ok := item.Get("path")
			if !ok {
				return nil, 0, errors.Wrap(ErrMissingField, "info.files[].path")
			}
			pathItems, err := pathVal.Items()
			if err != nil {
				return nil, 0, errors.Wrap(ErrWrongTag, "info.files[].path")
			}
			components := make([]string, 0, len(pathItems)+1)
			components = append(components, name)
			for _, p := range pathItems {
				s, err := p.String()
				if err != nil {
					return nil, 0, errors.Wrap(ErrWrongTag, "info.files[].path[]")
				}
				components = append(components, s)
			}
			files = append(files, FileEntry{Path: components, Size: length})
			total += length
		}
		return files, total, nil
	}

	length, err := requiredInt(infoVal, "length")
	if err != nil {
		return nil, 0, err
	}
	return []FileEntry{{Path: []string{name}, Size: length}}, length, nil
}

func extractAnnounceList(tree bencode.Value) []string {
	listVal, ok := tree.Get("announce-list")
	if !ok {
		return nil
	}
	outer, err := listVal.Items()
	if err != nil {
		return nil
	}
	var flat []string
	for _, inner := range outer {
		items, err := inner.Items()
		if err != nil || len(items) == 0 {
			continue
		}
		s, err := items[0].String()
		if err != nil {
			continue
		}
		flat = append(flat, s)
	}
	return flat
}

func requiredInt(v bencode.Value, key string) (int64, error) {
	child, ok := v.Get(key)
	if !ok {
		return 0, errors.Wrap(ErrMissingField, key)
	}
	n, err := child.Integer()
	if err != nil {
		return 0, errors.Wrap(ErrWrongTag, key)
	}
	return n, nil
}

func requiredString(v bencode.Value, key string) (string, error) {
	child, ok := v.Get(key)
	if !ok {
		return "", errors.Wrap(ErrMissingField, key)
	}
	s, err := child.String()
	if err != nil {
		return "", errors.Wrap(ErrWrongTag, key)
	}
	return s, nil
}
