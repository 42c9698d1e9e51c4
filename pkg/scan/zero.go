package scan

import (
	"bytes"
	"io"
)

const (
	// headProbeBytes is read first so most non-zero files are rejected cheaply
	headProbeBytes = 8
	// zeroChunkBytes is the chunk size for the rest of the file
	zeroChunkBytes = 1 << 20
)

// IsZeroFilled reports whether r yields at least one byte and every byte is zero
func IsZeroFilled(r io.Reader) (bool, error) {
	head := make([]byte, headProbeBytes)
	n, err := io.ReadFull(r, head)
	if err == io.EOF {
		return false, nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return false, err
	}
	if !allZero(head[:n]) {
		return false, nil
	}
	if err == io.ErrUnexpectedEOF {
		return true, nil
	}

	chunk := make([]byte, zeroChunkBytes)
	for {
		n, err := r.Read(chunk)
		if n > 0 && !allZero(chunk[:n]) {
			return false, nil
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

var zeroBlock = make([]byte, 4096)

func allZero(b []byte) bool {
	for len(b) > 0 {
		n := len(b)
		if n > len(zeroBlock) {
			n = len(zeroBlock)
		}
		if !bytes.Equal(b[:n], zeroBlock[:n]) {
			return false
		}
		b = b[n:]
	}
	return true
}
