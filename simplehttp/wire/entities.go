// Package wire holds the shared HTTP/1.1 entities (method, header,
// status, proto, body) plus the streaming reader and renderer built on
// top of them.
package wire

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/searchktools/valtron/simplehttp/uri"

	"google.golang.org/protobuf/proto"
)

// Method is an HTTP request method. The well-known verbs are typed
// constants; any other value is treated as an extension method.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodPatch   Method = "PATCH"
)

func (m Method) String() string { return string(m) }

// AllowsRequestBody reports whether m's requests customarily carry a
// body; PUT/POST/PATCH do, the rest don't (though an extension method
// is assumed to allow one).
func (m Method) AllowsRequestBody() bool {
	switch m {
	case MethodGet, MethodHead, MethodDelete, MethodConnect, MethodOptions, MethodTrace:
		return false
	default:
		return true
	}
}

// Proto is the HTTP version of a message.
type Proto int

const (
	ProtoHTTP09 Proto = iota
	ProtoHTTP10
	ProtoHTTP11
	ProtoHTTP20
	ProtoHTTP30
)

func (p Proto) String() string {
	switch p {
	case ProtoHTTP09:
		return "HTTP/0.9"
	case ProtoHTTP10:
		return "HTTP/1.0"
	case ProtoHTTP11:
		return "HTTP/1.1"
	case ProtoHTTP20:
		return "HTTP/2.0"
	case ProtoHTTP30:
		return "HTTP/3.0"
	default:
		return "HTTP/1.1"
	}
}

// ErrInvalidProto is returned when an intro line's version token does
// not match a known proto string.
var ErrInvalidProto = errors.New("wire: invalid proto")

// ParseProto parses a literal version token such as "HTTP/1.1".
func ParseProto(s string) (Proto, error) {
	switch s {
	case "HTTP/0.9":
		return ProtoHTTP09, nil
	case "HTTP/1.0":
		return ProtoHTTP10, nil
	case "HTTP/1.1":
		return ProtoHTTP11, nil
	case "HTTP/2.0", "HTTP/2":
		return ProtoHTTP20, nil
	case "HTTP/3.0", "HTTP/3":
		return ProtoHTTP30, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidProto, s)
	}
}

// Status is a response status code plus the literal reason phrase read
// off the wire (kept separate from the canonical text for the code, as
// a server may send a nonstandard reason phrase).
type Status struct {
	Code   int
	Reason string
}

var canonicalReasons = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 201: "Created", 202: "Accepted", 204: "No Content", 206: "Partial Content",
	301: "Moved Permanently", 302: "Found", 303: "See Other", 304: "Not Modified",
	307: "Temporary Redirect", 308: "Permanent Redirect",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 409: "Conflict", 410: "Gone",
	411: "Length Required", 413: "Payload Too Large", 414: "URI Too Long",
	415: "Unsupported Media Type", 429: "Too Many Requests",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout",
}

// NewStatus builds a Status, using the canonical reason phrase for
// code when none is supplied.
func NewStatus(code int, reason string) Status {
	if reason == "" {
		reason = canonicalReasons[code]
	}
	return Status{Code: code, Reason: reason}
}

// IsRedirect reports whether the status is one of the facade's
// recognized redirect codes (301/302/303/307/308).
func (s Status) IsRedirect() bool {
	switch s.Code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// ForbidsBody reports whether a response with this status never
// carries a body: 1xx, 204, 304.
func (s Status) ForbidsBody() bool {
	if s.Code >= 100 && s.Code < 200 {
		return true
	}
	return s.Code == 204 || s.Code == 304
}

// HeaderField is one name/value pair as it appeared on the wire.
type HeaderField struct {
	Name  string
	Value string
}

// Headers is an ordered, duplicate-preserving collection of header
// fields with case-insensitive name lookup.
type Headers struct {
	fields []HeaderField
}

// Add appends a field, preserving any existing field of the same name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Set replaces every existing field named name with a single field
// carrying value, appending if none existed.
func (h *Headers) Set(name, value string) {
	out := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if headerNameEqual(f.Name, name) {
			if !replaced {
				out = append(out, HeaderField{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, f)
	}
	h.fields = out
	if !replaced {
		h.fields = append(h.fields, HeaderField{Name: name, Value: value})
	}
}

// Get returns the first value for name, case-insensitively.
func (h Headers) Get(name string) (string, bool) {
	for _, f := range h.fields {
		if headerNameEqual(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value for name, in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if headerNameEqual(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether any field named name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Fields returns the underlying fields in insertion order. Callers
// must not mutate the returned slice.
func (h Headers) Fields() []HeaderField { return h.fields }

// Len reports the number of fields, counting duplicates.
func (h Headers) Len() int { return len(h.fields) }

// ConnectionDirectives parses the Connection header's comma-separated,
// case-insensitive token list (close/keep-alive/upgrade), folding
// together values from every Connection field present.
func (h Headers) ConnectionDirectives() []string {
	var tokens []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tokens = append(tokens, strings.ToLower(tok))
			}
		}
	}
	return tokens
}

// TransferEncodings parses the Transfer-Encoding header's
// comma-separated coding list, folding multiple fields together.
func (h Headers) TransferEncodings() []string {
	var tokens []string
	for _, v := range h.Values("Transfer-Encoding") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tokens = append(tokens, strings.ToLower(tok))
			}
		}
	}
	return tokens
}

// IsChunked reports whether chunked is the last coding in
// Transfer-Encoding, per RFC 7230 §3.3.1.
func (h Headers) IsChunked() bool {
	enc := h.TransferEncodings()
	return len(enc) > 0 && enc[len(enc)-1] == "chunked"
}

// BodyKind identifies which variant a SimpleBody holds.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyText
	BodyBytes
	BodyChunked
	BodyStream
)

// ChunkReader lazily produces successive chunk payloads; a zero-length
// chunk with a nil error signals the final chunk.
type ChunkReader interface {
	NextChunk() ([]byte, error)
}

// SimpleBody is a tagged union over the ways a message body may be
// represented: absent, fully-buffered text, fully-buffered bytes, a
// lazy chunk stream, or a lazy byte stream.
type SimpleBody struct {
	Kind   BodyKind
	Text   string
	Bytes  []byte
	Chunks ChunkReader
	Stream io.Reader
}

// NoBody returns the empty body.
func NoBody() SimpleBody { return SimpleBody{Kind: BodyNone} }

// TextBody wraps s as a textual body.
func TextBody(s string) SimpleBody { return SimpleBody{Kind: BodyText, Text: s} }

// BytesBody wraps b as an opaque byte body.
func BytesBody(b []byte) SimpleBody { return SimpleBody{Kind: BodyBytes, Bytes: b} }

// ChunkedBody wraps c as a lazily-produced chunked body.
func ChunkedBody(c ChunkReader) SimpleBody { return SimpleBody{Kind: BodyChunked, Chunks: c} }

// StreamBody wraps r as a lazily-read byte stream body.
func StreamBody(r io.Reader) SimpleBody { return SimpleBody{Kind: BodyStream, Stream: r} }

// ProtoBody marshals m with protobuf and wraps the result as a bytes
// body, mirroring the codec pair used by the RPC layer's
// ProtobufCodec.
func ProtoBody(m proto.Message) (SimpleBody, error) {
	b, err := proto.Marshal(m)
	if err != nil {
		return SimpleBody{}, fmt.Errorf("wire: marshal proto body: %w", err)
	}
	return BytesBody(b), nil
}

// Len reports the known length of the body, when determinable without
// consuming a lazy stream.
func (b SimpleBody) Len() (int, bool) {
	switch b.Kind {
	case BodyNone:
		return 0, true
	case BodyText:
		return len(b.Text), true
	case BodyBytes:
		return len(b.Bytes), true
	default:
		return 0, false
	}
}

// DecodeText renders data as text, honoring the charset parameter of
// contentType (defaulting to UTF-8 when absent or unrecognized).
func DecodeText(contentType string, data []byte) (string, error) {
	if contentType == "" {
		return string(data), nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(data), nil
	}
	charset := params["charset"]
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(data), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("wire: decode %s text body: %w", charset, err)
	}
	return string(decoded), nil
}

// IsTextualContentType reports whether contentType names a type this
// package treats as text when buffering a one-shot response body.
func IsTextualContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/javascript",
		"application/x-www-form-urlencoded", "application/xhtml+xml":
		return true
	}
	return strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "+xml")
}

// SimpleUrl pairs a raw request-target string with its parsed query
// and, optionally, a compiled path-template matcher used to extract
// named params (e.g. when correlating a redirect Location against a
// known route template).
type SimpleUrl struct {
	Raw     string
	Query   uri.Query
	Params  map[string]string
	matcher *regexp.Regexp
	names   []string
}

// NewSimpleUrl parses raw's query string eagerly; the path template
// matcher is compiled lazily via Compile.
func NewSimpleUrl(raw string) (SimpleUrl, error) {
	path := raw
	var rawQuery string
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		path = raw[:idx]
		rawQuery = raw[idx+1:]
	}
	q, err := uri.ParseQuery(rawQuery)
	if err != nil {
		return SimpleUrl{}, err
	}
	return SimpleUrl{Raw: path, Query: q}, nil
}

// Compile compiles a route-style template (":name" segments) into a
// matcher Match can use against a concrete path.
func (u *SimpleUrl) Compile(template string) error {
	var pattern strings.Builder
	pattern.WriteByte('^')
	var names []string
	for _, seg := range strings.Split(template, "/") {
		if seg == "" {
			continue
		}
		pattern.WriteByte('/')
		if strings.HasPrefix(seg, ":") {
			names = append(names, seg[1:])
			pattern.WriteString("([^/]+)")
		} else {
			pattern.WriteString(regexp.QuoteMeta(seg))
		}
	}
	pattern.WriteByte('$')
	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return fmt.Errorf("wire: compile url template %q: %w", template, err)
	}
	u.matcher = re
	u.names = names
	return nil
}

// Match reports whether path satisfies the compiled template,
// populating Params on success.
func (u *SimpleUrl) Match(path string) bool {
	if u.matcher == nil {
		return u.Raw == path
	}
	m := u.matcher.FindStringSubmatch(path)
	if m == nil {
		return false
	}
	params := make(map[string]string, len(u.names))
	for i, name := range u.names {
		params[name] = m[i+1]
	}
	u.Params = params
	return true
}

// PartKind identifies which variant of IncomingRequestParts /
// IncomingResponseParts a part holds.
type PartKind int

const (
	PartIntro PartKind = iota
	PartHeaders
	PartBody
	PartTrailer
)

// RequestIntro is the first line of an incoming request.
type RequestIntro struct {
	Method Method
	Target string
	Proto  Proto
}

// ResponseIntro is the first line of an incoming response.
type ResponseIntro struct {
	Proto  Proto
	Status Status
}

// RequestPart is one tagged element of the sequence an HTTP/1.1 reader
// yields while parsing a request.
type RequestPart struct {
	Kind    PartKind
	Intro   RequestIntro
	Headers Headers
	Body    SimpleBody
	Trailer Headers
}

// ResponsePart is one tagged element of the sequence an HTTP/1.1
// reader yields while parsing a response.
type ResponsePart struct {
	Kind    PartKind
	Intro   ResponseIntro
	Headers Headers
	Body    SimpleBody
	Trailer Headers
}
