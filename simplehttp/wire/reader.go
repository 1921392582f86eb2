package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HTTP reader error taxonomy (spec'd sentinel errors, not one giant
// enum, per this repo's one-error-var-per-failure-mode convention).
var (
	ErrIncompleteIntro   = errors.New("wire: incomplete intro line")
	ErrInvalidMethod     = errors.New("wire: invalid method token")
	ErrInvalidVersion    = errors.New("wire: invalid http version token")
	ErrInvalidHeaderLine = errors.New("wire: invalid header line")
	ErrInvalidChunkSize  = errors.New("wire: invalid chunk size")
	ErrUnexpectedEOF     = errors.New("wire: unexpected eof mid-message")
)

type readerState int

const (
	stateIntro readerState = iota
	stateHeaders
	stateBody
	stateTrailer
	stateDone
)

type bodyFraming int

const (
	framingNone bodyFraming = iota
	framingChunked
	framingSized
	framingUntilClose
)

// core holds the parsing state shared between RequestReader and
// ResponseReader: line reading, header folding, and body framing are
// identical regardless of which intro variant precedes them.
type core struct {
	br      *bufio.Reader
	lenient bool

	state   readerState
	headers Headers

	framing      bodyFraming
	remaining    int64
	chunkPending bool // mid-chunk: more data for the current chunk remains

	pendingTrailer Headers
}

func ioReadFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}

func ioReadAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func newCore(br *bufio.Reader, lenient bool) core {
	return core{br: br, lenient: lenient, state: stateIntro}
}

// readLine reads up to and including the line terminator, returning
// the line with the terminator stripped. In lenient mode a bare LF
// terminates a line; otherwise only CRLF does.
func (c *core) readLine() (string, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		if len(line) == 0 {
			return "", fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
	}
	line = strings.TrimSuffix(line, "\n")
	hadCR := strings.HasSuffix(line, "\r")
	line = strings.TrimSuffix(line, "\r")
	if !hadCR && !c.lenient {
		return "", fmt.Errorf("%w: line not terminated by CRLF", ErrInvalidHeaderLine)
	}
	return line, nil
}

func isFoldedContinuation(b byte) bool {
	return b == ' ' || b == '\t'
}

// readHeaders reads fields until a blank line, folding obsolete
// continuation lines (CRLF SP/TAB) into the preceding field's value.
func (c *core) readHeaders() (Headers, error) {
	var h Headers
	for {
		peek, err := c.br.Peek(1)
		foldCandidate := err == nil && len(peek) > 0 && isFoldedContinuation(peek[0])

		line, err := c.readLine()
		if err != nil {
			return h, err
		}
		if line == "" {
			return h, nil
		}

		if foldCandidate && len(h.fields) > 0 {
			last := &h.fields[len(h.fields)-1]
			last.Value = last.Value + " " + strings.TrimSpace(line)
			continue
		}

		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return h, fmt.Errorf("%w: missing colon in %q", ErrInvalidHeaderLine, line)
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])

		if !c.lenient {
			if name != strings.TrimSpace(name) {
				return h, fmt.Errorf("%w: whitespace around header name %q", ErrInvalidHeaderLine, name)
			}
		} else {
			name = strings.TrimSpace(name)
		}

		h.Add(name, value)
	}
}

// determineBodyFraming applies the RFC 7230 §3.3 rules. forbidsBody
// covers 1xx/204/304 responses and HEAD responses; isRequest
// distinguishes rule 4 (no-length request has no body) from rule 5
// (no-length response runs until connection close).
func determineBodyFraming(h Headers, forbidsBody, isRequest bool) (bodyFraming, int64, error) {
	if forbidsBody {
		return framingNone, 0, nil
	}
	if h.IsChunked() {
		return framingChunked, 0, nil
	}
	if cl, ok := h.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("%w: invalid content-length %q", ErrInvalidHeaderLine, cl)
		}
		return framingSized, n, nil
	}
	if isRequest {
		return framingNone, 0, nil
	}
	return framingUntilClose, 0, nil
}

// nextBody reads the next Body part (and, once the body is fully
// consumed, prepares the Trailer part for chunked bodies).
func (c *core) nextBody() (SimpleBody, bool, error) {
	switch c.framing {
	case framingNone:
		c.state = stateDone
		return NoBody(), false, nil

	case framingSized:
		if c.remaining == 0 {
			c.state = stateDone
			return NoBody(), false, nil
		}
		buf := make([]byte, c.remaining)
		if _, err := ioReadFull(c.br, buf); err != nil {
			return SimpleBody{}, false, fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
		}
		c.remaining = 0
		c.state = stateDone
		return BytesBody(buf), false, nil

	case framingUntilClose:
		buf, err := ioReadAll(c.br)
		c.state = stateDone
		if err != nil {
			return BytesBody(buf), false, nil
		}
		return BytesBody(buf), false, nil

	case framingChunked:
		var out []byte
		for {
			sizeLine, err := c.readLine()
			if err != nil {
				return SimpleBody{}, false, err
			}
			sizeTok := sizeLine
			if idx := strings.IndexByte(sizeTok, ';'); idx >= 0 {
				sizeTok = sizeTok[:idx]
			}
			sizeTok = strings.TrimSpace(sizeTok)
			size, err := strconv.ParseInt(sizeTok, 16, 64)
			if err != nil || size < 0 {
				return SimpleBody{}, false, fmt.Errorf("%w: %q", ErrInvalidChunkSize, sizeLine)
			}
			if size == 0 {
				// Trailer section, then the final CRLF.
				trailer, err := c.readHeaders()
				if err != nil {
					return SimpleBody{}, false, err
				}
				c.state = stateTrailer
				c.pendingTrailer = trailer
				if len(out) == 0 {
					return NoBody(), true, nil
				}
				return BytesBody(out), true, nil
			}
			chunk := make([]byte, size)
			if _, err := ioReadFull(c.br, chunk); err != nil {
				return SimpleBody{}, false, fmt.Errorf("%w: %v", ErrUnexpectedEOF, err)
			}
			out = append(out, chunk...)
			if _, err := c.readLine(); err != nil { // trailing CRLF after chunk data
				return SimpleBody{}, false, err
			}
		}
	}

	return NoBody(), false, nil
}

// RequestReader parses an HTTP/1.1 request as a sequence of
// RequestPart values: Intro, Headers, then zero or more Body/Trailer.
type RequestReader struct {
	core           core
	pendingTrailer Headers
}

// NewRequestReader wraps r. lenient permits bare-LF line endings and
// header-name whitespace that strict mode rejects.
func NewRequestReader(br *bufio.Reader, lenient bool) *RequestReader {
	return &RequestReader{core: newCore(br, lenient)}
}

// Next returns the next part, or stateDone's zero part with err == nil
// once the message has been fully consumed.
func (r *RequestReader) Next() (RequestPart, error) {
	switch r.core.state {
	case stateIntro:
		line, err := r.core.readLine()
		if err != nil {
			return RequestPart{}, fmt.Errorf("%w: %v", ErrIncompleteIntro, err)
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return RequestPart{}, fmt.Errorf("%w: %q", ErrIncompleteIntro, line)
		}
		method := Method(parts[0])
		if method == "" {
			return RequestPart{}, fmt.Errorf("%w: empty method", ErrInvalidMethod)
		}
		proto, err := ParseProto(parts[2])
		if err != nil {
			return RequestPart{}, err
		}
		r.core.state = stateHeaders
		return RequestPart{Kind: PartIntro, Intro: RequestIntro{Method: method, Target: parts[1], Proto: proto}}, nil

	case stateHeaders:
		h, err := r.core.readHeaders()
		if err != nil {
			return RequestPart{}, err
		}
		r.core.headers = h
		framing, remaining, err := determineBodyFraming(h, false, true)
		if err != nil {
			return RequestPart{}, err
		}
		r.core.framing = framing
		r.core.remaining = remaining
		r.core.state = stateBody
		return RequestPart{Kind: PartHeaders, Headers: h}, nil

	case stateBody:
		body, hasTrailer, err := r.core.nextBody()
		if err != nil {
			return RequestPart{}, err
		}
		r.pendingTrailer = r.core.pendingTrailer
		if hasTrailer {
			// Body emitted now; the trailer follows on the next Next call.
		}
		return RequestPart{Kind: PartBody, Body: body}, nil

	case stateTrailer:
		r.core.state = stateDone
		return RequestPart{Kind: PartTrailer, Trailer: r.pendingTrailer}, nil

	default:
		return RequestPart{}, nil
	}
}

// Done reports whether the message has been fully consumed.
func (r *RequestReader) Done() bool { return r.core.state == stateDone }

// ResponseReader parses an HTTP/1.1 response as a sequence of
// ResponsePart values.
type ResponseReader struct {
	core           core
	pendingTrailer Headers
	requestMethod  Method // set via SetRequestMethod for the HEAD no-body rule
	forbidsBody    bool   // set via ApplyForbidsBody for 1xx/204/304 statuses
}

// NewResponseReader wraps r.
func NewResponseReader(br *bufio.Reader, lenient bool) *ResponseReader {
	return &ResponseReader{core: newCore(br, lenient)}
}

// SetRequestMethod records the method of the request this response
// answers, so a HEAD response is correctly treated as bodyless.
func (r *ResponseReader) SetRequestMethod(m Method) { r.requestMethod = m }

func (r *ResponseReader) Next() (ResponsePart, error) {
	switch r.core.state {
	case stateIntro:
		line, err := r.core.readLine()
		if err != nil {
			return ResponsePart{}, fmt.Errorf("%w: %v", ErrIncompleteIntro, err)
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return ResponsePart{}, fmt.Errorf("%w: %q", ErrIncompleteIntro, line)
		}
		proto, err := ParseProto(parts[0])
		if err != nil {
			return ResponsePart{}, err
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return ResponsePart{}, fmt.Errorf("%w: invalid status code %q", ErrInvalidVersion, parts[1])
		}
		reason := ""
		if len(parts) == 3 {
			reason = parts[2]
		}
		r.core.state = stateHeaders
		return ResponsePart{Kind: PartIntro, Intro: ResponseIntro{Proto: proto, Status: NewStatus(code, reason)}}, nil

	case stateHeaders:
		h, err := r.core.readHeaders()
		if err != nil {
			return ResponsePart{}, err
		}
		r.core.headers = h
		forbids := r.requestMethod == MethodHead || r.forbidsBody
		framing, remaining, err := determineBodyFraming(h, forbids, false)
		if err != nil {
			return ResponsePart{}, err
		}
		r.core.framing = framing
		r.core.remaining = remaining
		r.core.state = stateBody
		return ResponsePart{Kind: PartHeaders, Headers: h}, nil

	case stateBody:
		body, hasTrailer, err := r.core.nextBody()
		if err != nil {
			return ResponsePart{}, err
		}
		r.pendingTrailer = r.core.pendingTrailer
		_ = hasTrailer
		return ResponsePart{Kind: PartBody, Body: body}, nil

	case stateTrailer:
		r.core.state = stateDone
		return ResponsePart{Kind: PartTrailer, Trailer: r.pendingTrailer}, nil

	default:
		return ResponsePart{}, nil
	}
}

// Done reports whether the message has been fully consumed.
func (r *ResponseReader) Done() bool { return r.core.state == stateDone }

// ApplyForbidsBody marks a response as bodyless regardless of framing
// headers, for 1xx/204/304 statuses the caller has already observed
// from the Intro part.
func (r *ResponseReader) ApplyForbidsBody() {
	r.forbidsBody = true
	if r.core.state == stateBody {
		r.core.framing = framingNone
	}
}
