package protocol

import (
	"bytes"
	"strings"
)

// NoSignal is the id returned for a path that resolves nowhere.
const NoSignal int64 = -1

// EncodeID packs a signal id, or NoSignal, into one payload word.
func EncodeID(id int64) uint64 {
	return uint64(id)
}

// DecodeID is the inverse of EncodeID.
func DecodeID(w uint64) int64 {
	return int64(w)
}

// CheckString reports whether s can travel as a NUL-terminated string in a
// payload of size bytes.
func CheckString(s string, size int) error {
	if strings.IndexByte(s, 0) >= 0 {
		return ErrEmbeddedNUL
	}
	if len(s)+1 > size {
		return ErrStringTooLong
	}
	return nil
}

// PutString copies s into buf followed by a NUL terminator.
func PutString(buf []byte, s string) error {
	if err := CheckString(s, len(buf)); err != nil {
		return err
	}
	n := copy(buf, s)
	buf[n] = 0
	return nil
}

// GetString returns the bytes of buf up to the first NUL, or all of buf.
func GetString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}
