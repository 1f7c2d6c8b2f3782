// Package wire frames and unframes JSON-RPC message bodies over a byte
// stream using the LSP base protocol: ASCII header lines terminated by
// CRLF, at least a Content-Length header, a blank line, then exactly that
// many bytes of UTF-8 payload.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/polyls/polyls/src/polyls/internal/lsperr"
)

const (
	_headerContentLength = "Content-Length"
	_headerSeparator     = "\r\n"
)

// Reader pulls one complete framed message at a time from the stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over the given stream, typically a subprocess's stdout.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Read blocks until one complete frame is available and returns its raw body.
// A stream that closes while more bytes are expected fails with
// lsperr.ErrTransportClosed; malformed headers fail with *lsperr.FramingError.
func (r *Reader) Read() ([]byte, error) {
	contentLength := -1
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil, lsperr.ErrTransportClosed
			}
			return nil, fmt.Errorf("reading frame header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, &lsperr.FramingError{Header: line, Reason: "missing header separator"}
		}
		if strings.EqualFold(name, _headerContentLength) {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, &lsperr.FramingError{Header: line, Reason: "non-numeric content length"}
			}
			contentLength = n
		}
		// Content-Type and any other headers are ignored.
	}

	if contentLength < 0 {
		return nil, &lsperr.FramingError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, lsperr.ErrTransportClosed
	}
	return body, nil
}

// Writer frames message bodies onto the stream. Writes are serialized so
// concurrent senders never interleave partial frames.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer over the given stream, typically a subprocess's stdin.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write frames a single message body and writes it to the stream.
func (w *Writer) Write(body []byte) error {
	header := fmt.Sprintf("%s: %d%s%s", _headerContentLength, len(body), _headerSeparator, _headerSeparator)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.w, header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}
