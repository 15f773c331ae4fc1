package download

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/cormang/gotorrent/metainfo"
)

// Assemble streams verified piece artifacts into the file layout the
// descriptor describes. Pieces are consumed in index order; a carry
// buffer holds the tail of a piece that spills into the next file, since
// piece boundaries generally do not coincide with file boundaries.
func Assemble(info *metainfo.Info, scratchDir, outputDir string) error {
	currentPiece := 0
	var carry []byte

	readNextPiece := func() ([]byte, error) {
		path := filepath.Join(scratchDir, fmt.Sprintf(".%d", currentPiece))
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "download: reading piece artifact %d", currentPiece)
		}
		currentPiece++
		return data, nil
	}

	for _, file := range info.Files {
		outPath := filepath.Join(append([]string{outputDir}, file.Path...)...)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return errors.Wrap(err, "download: create output directory")
		}
		out, err := os.Create(outPath)
		if err != nil {
			return errors.Wrap(err, "download: create output file")
		}

		if err := writeFile(out, file.Size, &carry, readNextPiece); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return errors.Wrap(err, "download: close output file")
		}
	}
	return nil
}

// writeFile drains carry first, then whole piece artifacts, to fill
// exactly size bytes of out, leaving any overflow from the final piece
// it reads in *carry for the next file.
func writeFile(out *os.File, size int64, carry *[]byte, readNextPiece func() ([]byte, error)) error {
	var written int64

	drain := func(data []byte) (consumed int64, err error) {
		remaining := size - written
		if int64(len(data)) <= remaining {
			if _, err := out.WriteAt(data, written); err != nil {
				return 0, errors.Wrap(err, "download: write output file")
			}
			written += int64(len(data))
			return int64(len(data)), nil
		}
		if _, err := out.WriteAt(data[:remaining], written); err != nil {
			return 0, errors.Wrap(err, "download: write output file")
		}
		written += remaining
		return remaining, nil
	}

	if len(*carry) > 0 {
		consumed, err := drain(*carry)
		if err != nil {
			return err
		}
		*carry = (*carry)[consumed:]
	}

	for written < size {
		data, err := readNextPiece()
		if err != nil {
			return err
		}
		consumed, err := drain(data)
		if err != nil {
			return err
		}
		if consumed < int64(len(data)) {
			*carry = append([]byte{}, data[consumed:]...)
		}
	}
	return nil
}
