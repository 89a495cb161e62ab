package dbgpshare

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// MaxFrameLength caps the accepted body length of a DBGp frame. spec.md
// §4.1 mandates no specific maximum but requires an implementation to
// impose a sane one and treat overflow as a protocol error.
const MaxFrameLength = 1 << 20 // 1 MiB

// ReadFrame reads one DBGp-framed message from r: an ASCII decimal length,
// a NUL, exactly that many body bytes, then a trailing NUL (spec.md §4.1).
// It accumulates across short reads via the buffered reader and returns
// only the body.
func ReadFrame(r *bufio.Reader) (string, error) {
	lenPrefix, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	lenPrefix = lenPrefix[:len(lenPrefix)-1] // drop the NUL delimiter

	n, err := strconv.Atoi(lenPrefix)
	if err != nil || n < 0 {
		return "", fmt.Errorf("invalid frame length %q", lenPrefix)
	}
	if n > MaxFrameLength {
		return "", fmt.Errorf("frame length %d exceeds %d byte limit", n, MaxFrameLength)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", err
	}

	trailer, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if trailer != 0 {
		return "", fmt.Errorf("expected NUL terminator, got %q", trailer)
	}

	return string(body), nil
}

// EncodeFrame applies the DBGp wire encoding to body: its UTF-8 byte length
// in ASCII decimal, a NUL, the body, then a trailing NUL.
func EncodeFrame(body string) []byte {
	return []byte(fmt.Sprintf("%d\x00%s\x00", len(body), body))
}

// WriteFrame writes body to w using the DBGp framing.
func WriteFrame(w io.Writer, body string) error {
	_, err := w.Write(EncodeFrame(body))
	return err
}
