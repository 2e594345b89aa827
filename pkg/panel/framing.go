package panel

import (
	"bufio"
	"errors"
)

var errFrameTooLarge = errors.New("panel: frame exceeds maximum size")

// newFrameScanner builds a bufio.Scanner that splits on newline-
// delimited frames, tolerating a trailing CR before the LF (the
// default bufio.ScanLines already does this), and refusing to buffer
// past maxSize bytes for a single frame.
func newFrameScanner(r *bufio.Reader, maxSize int) *bufio.Scanner {
	s := bufio.NewScanner(r)
	// bufio.Scanner honours the larger of maxSize and the initial
	// buffer's capacity, so the initial buffer must not exceed maxSize.
	s.Buffer(make([]byte, 0, min(4096, maxSize)), maxSize)
	s.Split(bufio.ScanLines)
	return s
}

// scanErr translates a scanner error into errFrameTooLarge where
// applicable.
func scanErr(s *bufio.Scanner) error {
	err := s.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return errFrameTooLarge
	}
	return err
}
