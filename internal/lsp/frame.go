package lsp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteFrame writes a single LSP base-protocol frame: a Content-Length
// header declaring the payload's byte length, a blank separator line, then
// the payload bytes. A failed or partial write corrupts the framing of the
// stream, so callers must treat any error as connection-fatal.
func WriteFrame(w io.Writer, payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads the next frame from r and returns its payload.
//
// Lines that are not a Content-Length header are treated as protocol noise
// and skipped, as is a header declaring a zero length. Additional headers
// (Content-Type and friends) between the length header and the blank
// separator are ignored. Returns io.EOF at end of stream.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)

		if line == "" {
			if contentLength > 0 {
				break // end of headers
			}
			continue // blank line before any header: noise
		}

		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if length, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && length > 0 {
					contentLength = length
				}
			}
		}
		// Anything else is an unrecognized header or noise; keep scanning.
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
