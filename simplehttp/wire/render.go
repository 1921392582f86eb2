package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// ErrInvalidHeaderValue is returned when a header value contains a
// bare CR or LF, which would allow request smuggling if written as-is.
var ErrInvalidHeaderValue = errors.New("wire: header value contains CR or LF")

// OutgoingRequest is the validated shape the renderer consumes: by the
// time it reaches Render, method/target/proto/headers/body have
// already passed through the client facade's construction checks.
type OutgoingRequest struct {
	Method  Method
	Target  string
	Proto   Proto
	Host    string // used to inject a Host header when Headers lacks one
	Headers Headers
	Body    SimpleBody
}

// Render writes req to w as HTTP/1.1 wire bytes: the request line,
// Host/Content-Length/Transfer-Encoding injected as needed, the
// remaining headers in insertion order, then the body.
func Render(w *bufio.Writer, req OutgoingRequest) error {
	if _, err := fmt.Fprintf(w, "%s %s %s\r\n", req.Method, req.Target, req.Proto); err != nil {
		return err
	}

	headers := req.Headers
	if !headers.Has("Host") && req.Host != "" {
		headers.Set("Host", req.Host)
	}

	bodyLen, known := req.Body.Len()
	if known && req.Body.Kind != BodyNone {
		if !headers.Has("Content-Length") && !headers.Has("Transfer-Encoding") {
			headers.Set("Content-Length", strconv.Itoa(bodyLen))
		}
	} else if req.Body.Kind == BodyChunked || req.Body.Kind == BodyStream {
		if !headers.Has("Content-Length") {
			headers.Set("Transfer-Encoding", "chunked")
		}
	}

	for _, f := range headers.Fields() {
		if !httpguts.ValidHeaderFieldName(f.Name) {
			return fmt.Errorf("wire: invalid header name %q", f.Name)
		}
		if !httpguts.ValidHeaderFieldValue(f.Value) {
			return fmt.Errorf("%w: %q", ErrInvalidHeaderValue, f.Name)
		}
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}

	switch req.Body.Kind {
	case BodyNone:
	case BodyText:
		if _, err := w.WriteString(req.Body.Text); err != nil {
			return err
		}
	case BodyBytes:
		if _, err := w.Write(req.Body.Bytes); err != nil {
			return err
		}
	case BodyChunked:
		if err := writeChunked(w, req.Body.Chunks); err != nil {
			return err
		}
	case BodyStream:
		if err := writeChunkedFromReader(w, req.Body.Stream); err != nil {
			return err
		}
	}

	return w.Flush()
}

func writeChunked(w *bufio.Writer, chunks ChunkReader) error {
	if chunks == nil {
		_, err := w.WriteString("0\r\n\r\n")
		return err
	}
	for {
		chunk, err := chunks.NextChunk()
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			_, err := w.WriteString("0\r\n\r\n")
			return err
		}
		if _, err := fmt.Fprintf(w, "%x\r\n", len(chunk)); err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return err
		}
	}
}

func writeChunkedFromReader(w *bufio.Writer, r interface {
	Read(p []byte) (int, error)
}) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := fmt.Fprintf(w, "%x\r\n", n); werr != nil {
				return werr
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if _, werr := w.WriteString("\r\n"); werr != nil {
				return werr
			}
		}
		if err != nil {
			if _, werr := w.WriteString("0\r\n\r\n"); werr != nil {
				return werr
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
