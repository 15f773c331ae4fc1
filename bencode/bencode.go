// Package bencode implements a recursive-descent bencode parser that
// recovers the exact byte range of the top-level "info" dictionary,
// since the torrent's identity (its info-hash) is a SHA-1 of those raw
// bytes and cannot be reconstructed by re-encoding a parsed tree.
package bencode

import (
	"fmt"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindList
	KindDict
)

// Value is a tagged union of the four bencode productions. Dict preserves
// insertion order via Keys, since bencode dictionaries are required to be
// sorted but callers (metainfo extraction) only need ordered lookup.
type Value struct {
	Kind Kind

	Str  []byte
	Int  int64
	List []Value
	Dict map[string]Value
	Keys []string // insertion order of Dict
}

// Range is an inclusive-exclusive byte interval [Start, End) into the
// original source buffer.
type Range struct {
	Start int
	End   int
}

// ErrKind classifies a parse failure.
type ErrKind int

const (
	ErrUnexpectedByte ErrKind = iota
	ErrMalformedInt
	ErrLengthOverrun
	ErrDuplicateKey
	ErrTrailingGarbage
	ErrNotADict
)

// Error is returned by Parse on malformed input.
type Error struct {
	Kind   ErrKind
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("bencode: %s (offset %d)", e.Msg, e.Offset)
}

func newErr(kind ErrKind, offset int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// scanState threads the cursor and the info-range bookkeeping through the
// recursive descent as an explicit value, instead of the process-wide
// mutable globals the reference implementation uses.
type scanState struct {
	data []byte
	pos  int

	// infoRange, once both fields are non-negative, is the byte interval
	// of the top-level "info" value.
	infoStart int
	infoEnd   int
}

// Parse decodes a full bencoded torrent file and returns the parsed tree
// together with the byte range of its top-level "info" value. The top
// level must be a dictionary beginning with 'd', per the torrent file
// format.
func Parse(data []byte) (Value, Range, error) {
	if len(data) == 0 || data[0] != 'd' {
		return Value{}, Range{}, newErr(ErrNotADict, 0, "top-level value must be a dictionary")
	}
	st := &scanState{data: data, infoStart: -1, infoEnd: -1}
	st.pos = 1
	dict, err := parseDictBody(st, true)
	if err != nil {
		return Value{}, Range{}, err
	}
	if st.pos != len(data) {
		return Value{}, Range{}, newErr(ErrTrailingGarbage, st.pos, "trailing garbage after top-level dictionary")
	}
	var rng Range
	if st.infoStart >= 0 && st.infoEnd >= st.infoStart {
		rng = Range{Start: st.infoStart, End: st.infoEnd}
	}
	return Value{Kind: KindDict, Dict: dict.Dict, Keys: dict.Keys}, rng, nil
}

func peek(st *scanState) (byte, error) {
	if st.pos >= len(st.data) {
		return 0, newErr(ErrLengthOverrun, st.pos, "unexpected end of input")
	}
	return st.data[st.pos], nil
}

func parseValue(st *scanState) (Value, error) {
	b, err := peek(st)
	if err != nil {
		return Value{}, err
	}
	switch {
	case b == 'i':
		st.pos++
		n, err := parseInt(st)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindInt, Int: n}, nil
	case b >= '0' && b <= '9':
		s, err := parseBytes(st)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, Str: s}, nil
	case b == 'l':
		st.pos++
		list, err := parseList(st)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindList, List: list}, nil
	case b == 'd':
		st.pos++
		return parseDictBody(st, false)
	default:
		return Value{}, newErr(ErrUnexpectedByte, st.pos, "unexpected byte %q", b)
	}
}

// parseInt handles the "i<decimal>e" production. On entry, cursor points
// just past the 'i'. On return, cursor points just past the 'e'.
func parseInt(st *scanState) (int64, error) {
	start := st.pos
	if start < len(st.data) && st.data[start] == '-' {
		st.pos++
	}
	digitsStart := st.pos
	for st.pos < len(st.data) && st.data[st.pos] >= '0' && st.data[st.pos] <= '9' {
		st.pos++
	}
	if st.pos == digitsStart {
		return 0, newErr(ErrMalformedInt, start, "integer has no digits")
	}
	if st.pos >= len(st.data) || st.data[st.pos] != 'e' {
		return 0, newErr(ErrMalformedInt, start, "integer not terminated by 'e'")
	}
	raw := string(st.data[start:st.pos])
	st.pos++
	var n int64
	_, err := fmt.Sscanf(raw, "%d", &n)
	if err != nil {
		return 0, newErr(ErrMalformedInt, start, "malformed integer %q", raw)
	}
	return n, nil
}

// parseBytes handles the "<len>:<bytes>" production, returning the raw
// byte string. On entry, cursor points at the first length digit.
func parseBytes(st *scanState) ([]byte, error) {
	start := st.pos
	for st.pos < len(st.data) && st.data[st.pos] >= '0' && st.data[st.pos] <= '9' {
		st.pos++
	}
	if st.pos == start {
		return nil, newErr(ErrUnexpectedByte, start, "expected string length")
	}
	if st.pos >= len(st.data) || st.data[st.pos] != ':' {
		return nil, newErr(ErrUnexpectedByte, st.pos, "expected ':' after string length")
	}
	var length int
	_, err := fmt.Sscanf(string(st.data[start:st.pos]), "%d", &length)
	if err != nil || length < 0 {
		return nil, newErr(ErrMalformedInt, start, "malformed string length")
	}
	st.pos++
	if st.pos+length > len(st.data) {
		return nil, newErr(ErrLengthOverrun, st.pos, "string length %d overruns buffer", length)
	}
	out := st.data[st.pos : st.pos+length]
	st.pos += length
	return out, nil
}

// parseList handles the "l...e" production. On entry, cursor points just
// past the 'l'.
func parseList(st *scanState) ([]Value, error) {
	var list []Value
	for {
		b, err := peek(st)
		if err != nil {
			return nil, err
		}
		if b == 'e' {
			st.pos++
			return list, nil
		}
		v, err := parseValue(st)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

// keepRawBytes reports whether a well-known key must retain its raw byte
// payload rather than be surfaced as text, per the torrent wire format.
func keepRawBytes(key string) bool {
	return key == "pieces" || key == "peers" || key == "peers6"
}

// parseDictBody handles the "d...e" production. On entry, cursor points
// just past the 'd' (or, for top==true, just past the top-level 'd').
// While the key "info" has just been consumed and its value is about to
// be parsed, the info-range start is recorded; it is closed off the
// moment that value finishes.
func parseDictBody(st *scanState, top bool) (Value, error) {
	dict := make(map[string]Value)
	var keys []string

	for {
		b, err := peek(st)
		if err != nil {
			return Value{}, err
		}
		if b == 'e' {
			st.pos++
			return Value{Kind: KindDict, Dict: dict, Keys: keys}, nil
		}
		if !(b >= '0' && b <= '9') {
			return Value{}, newErr(ErrUnexpectedByte, st.pos, "dictionary key must be a byte string, got %q", b)
		}
		keyBytes, err := parseBytes(st)
		if err != nil {
			return Value{}, err
		}
		key := string(keyBytes)
		if _, dup := dict[key]; dup {
			return Value{}, newErr(ErrDuplicateKey, st.pos, "duplicate key %q", key)
		}

		isInfoKey := top && key == "info"
		if isInfoKey {
			st.infoStart = st.pos
		}

		var val Value
		if keepRawBytes(key) {
			raw, err := parseBytes(st)
			if err != nil {
				return Value{}, err
			}
			val = Value{Kind: KindString, Str: raw}
		} else {
			val, err = parseValue(st)
			if err != nil {
				return Value{}, err
			}
		}

		if isInfoKey {
			st.infoEnd = st.pos
		}

		dict[key] = val
		keys = append(keys, key)
	}
}
