package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/searchktools/valtron/simplehttp/dns"
	"github.com/searchktools/valtron/simplehttp/pool"
	"github.com/searchktools/valtron/simplehttp/retry"
	"github.com/searchktools/valtron/simplehttp/uri"
	"github.com/searchktools/valtron/simplehttp/wire"
	"github.com/searchktools/valtron/valtron"
)

// ErrNoAuthority is returned by Build when the request URL has no
// host to connect to.
var ErrNoAuthority = errors.New("client: url has no authority")

// ErrStateInvalid is returned when ClientRequest's consumption methods
// are called out of the order the handoff invariant requires: Body
// before Introduction, Introduction called twice, Body/Introduction
// called after Parts has started consuming, or Parts started after
// Introduction/Body already did.
var ErrStateInvalid = errors.New("client: invalid request state")

// PreparedRequest is a fully-built, immediately sendable request: a
// parsed target URL, method, headers and body that have already
// passed through ClientRequestBuilder's validation.
type PreparedRequest struct {
	Method  wire.Method
	URL     *uri.URI
	Headers wire.Headers
	Body    wire.SimpleBody
}

func (r *PreparedRequest) toOutgoing() wire.OutgoingRequest {
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	host := r.URL.Host().String()
	if r.URL.Authority.Port != nil {
		host = host + ":" + strconv.Itoa(int(*r.URL.Authority.Port))
	}

	return wire.OutgoingRequest{
		Method:  r.Method,
		Target:  target,
		Proto:   wire.ProtoHTTP11,
		Host:    host,
		Headers: r.Headers,
		Body:    r.Body,
	}
}

func (r *PreparedRequest) poolKey() pool.Key {
	return pool.Key{Host: r.URL.Host().Value, Port: r.URL.PortOrDefault()}
}

func (r *PreparedRequest) endpoint(connectTimeout time.Duration) retry.Endpoint {
	return retry.Endpoint{
		Host:           r.URL.Host().Value,
		Port:           r.URL.PortOrDefault(),
		ConnectTimeout: connectTimeout,
		TLS:            strings.EqualFold(r.URL.Scheme, "https"),
		ServerName:     r.URL.Host().Value,
	}
}

// ClientRequestBuilder constructs a PreparedRequest. A zero value is
// not usable; start from NewRequestBuilder.
type ClientRequestBuilder struct {
	method  wire.Method
	rawURL  string
	headers wire.Headers
	body    wire.SimpleBody
	err     error
}

// NewRequestBuilder starts building a request of the given method
// against rawURL.
func NewRequestBuilder(method wire.Method, rawURL string) *ClientRequestBuilder {
	return &ClientRequestBuilder{method: method, rawURL: rawURL}
}

// Header appends a header field, preserving any duplicate already set.
func (b *ClientRequestBuilder) Header(name, value string) *ClientRequestBuilder {
	b.headers.Add(name, value)
	return b
}

// Text sets a plain-text body, defaulting Content-Type if unset.
func (b *ClientRequestBuilder) Text(s string) *ClientRequestBuilder {
	b.body = wire.TextBody(s)
	if !b.headers.Has("Content-Type") {
		b.headers.Set("Content-Type", "text/plain; charset=utf-8")
	}
	return b
}

// Bytes sets an opaque binary body, defaulting Content-Type if unset.
func (b *ClientRequestBuilder) Bytes(data []byte) *ClientRequestBuilder {
	b.body = wire.BytesBody(data)
	if !b.headers.Has("Content-Type") {
		b.headers.Set("Content-Type", "application/octet-stream")
	}
	return b
}

// JSON marshals v with encoding/json and sets it as the body.
func (b *ClientRequestBuilder) JSON(v any) *ClientRequestBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("client: marshal json body: %w", err)
		return b
	}
	b.body = wire.BytesBody(data)
	b.headers.Set("Content-Type", "application/json")
	return b
}

// Proto marshals m with protobuf and sets it as the body, mirroring
// wire.ProtoBody's codec.
func (b *ClientRequestBuilder) Proto(m proto.Message) *ClientRequestBuilder {
	body, err := wire.ProtoBody(m)
	if err != nil {
		b.err = err
		return b
	}
	b.body = body
	b.headers.Set("Content-Type", "application/x-protobuf")
	return b
}

// Form url-encodes values as the body, per
// application/x-www-form-urlencoded.
func (b *ClientRequestBuilder) Form(values url.Values) *ClientRequestBuilder {
	b.body = wire.TextBody(values.Encode())
	b.headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return b
}

// Build parses rawURL and validates the accumulated state, producing
// a PreparedRequest.
func (b *ClientRequestBuilder) Build() (*PreparedRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	u, err := uri.Parse(b.rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if u.Authority == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoAuthority, b.rawURL)
	}
	return &PreparedRequest{Method: b.method, URL: u, Headers: b.headers, Body: b.body}, nil
}

// RedirectPolicy decides, given the redirecting status and the
// original request's method, what method the follow-up request should
// use and whether its body should be dropped. DefaultRedirectPolicy
// implements the common browser-compatible rules.
type RedirectPolicy func(status wire.Status, method wire.Method) (newMethod wire.Method, dropBody bool)

// DefaultRedirectPolicy: 307/308 preserve method and body exactly;
// 303 always becomes a bodyless GET; 301/302 become a bodyless GET
// only when the original request was a POST, and otherwise preserve
// the method (matching what real browsers and most HTTP clients do,
// even though RFC 7231 leaves 301/302-after-POST unspecified).
func DefaultRedirectPolicy(status wire.Status, method wire.Method) (wire.Method, bool) {
	switch status.Code {
	case 307, 308:
		return method, false
	case 303:
		return wire.MethodGet, true
	case 301, 302:
		if method == wire.MethodPost {
			return wire.MethodGet, true
		}
		return method, false
	default:
		return method, false
	}
}

// ClientRequestConfig configures how a ClientRequest acquires and
// reuses connections.
type ClientRequestConfig struct {
	Pool           *pool.Pool
	Resolver       dns.Resolver
	Backoff        *retry.Backoff
	Dial           retry.Dialer
	TLSBackend     TLSBackend
	ConnectTimeout time.Duration
	Lenient        bool
	MaxRedirects   int
	RedirectPolicy RedirectPolicy
}

func (c *ClientRequestConfig) applyDefaults() {
	if c.Resolver == nil {
		c.Resolver = dns.NewDefault()
	}
	if c.Dial == nil {
		c.Dial = defaultDialer(c.Resolver)
	}
	if c.Backoff == nil {
		c.Backoff = retry.NewBackoff(2, 0.2, 50*time.Millisecond, 5*time.Second, 5, 1)
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = 10
	}
	if c.RedirectPolicy == nil {
		c.RedirectPolicy = DefaultRedirectPolicy
	}
}

func defaultDialer(resolver dns.Resolver) retry.Dialer {
	return func(ctx context.Context, ep retry.Endpoint) (net.Conn, error) {
		addrs, err := resolver.Resolve(ctx, ep.Host, ep.Port)
		if err != nil {
			return nil, err
		}
		d := &net.Dialer{}
		var lastErr error
		for _, addr := range addrs {
			conn, err := d.DialContext(ctx, "tcp", addr.String())
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// runTaskToReady blocks a caller's goroutine until it a TaskIterator
// yields its first Ready value, sleeping through Delayed statuses and
// yielding the scheduler on Pending ones. It exists so the facade can
// drive an M/N task synchronously without standing up a full K/L
// engine for a single request.
func runTaskToReady[R, P any](it valtron.TaskIterator[R, P]) (R, error) {
	for {
		status, ok := it.Next()
		if !ok {
			var zero R
			return zero, errors.New("client: task terminated without a ready result")
		}
		switch status.Kind {
		case valtron.StatusReady:
			return status.Ready, nil
		case valtron.StatusDelayed:
			time.Sleep(status.Delay)
		case valtron.StatusPending:
			runtime.Gosched()
		}
	}
}

// consumer tags which of the two mutually exclusive consumption
// patterns (O: Introduction/Body, or Parts) has claimed a ClientRequest.
// Once set, the other pattern's methods return ErrStateInvalid rather
// than silently interleaving reads against the same underlying stream.
type consumer int

const (
	consumerNone consumer = iota
	consumerDirect
	consumerIterator
)

// ClientRequest drives a single request/response exchange: connecting
// (M, optionally N for TLS), rendering and sending (E), then reading
// the response back (D) part by part.
type ClientRequest struct {
	cfg ClientRequestConfig
	req *PreparedRequest

	conn       net.Conn
	respReader *wire.ResponseReader
	started    bool
	introduced bool
	bodyRead   bool
	finished   bool
	consumer   consumer

	intro   wire.ResponseIntro
	headers wire.Headers
}

// NewClientRequest builds a ClientRequest for req using cfg. Unset
// config fields (resolver, dialer, backoff, redirect policy) get
// sensible defaults.
func NewClientRequest(req *PreparedRequest, cfg ClientRequestConfig) *ClientRequest {
	cfg.applyDefaults()
	return &ClientRequest{cfg: cfg, req: req}
}

func (c *ClientRequest) ensureConnected(ctx context.Context) error {
	if c.started {
		return nil
	}
	if err := c.connectAndSend(ctx); err != nil {
		return err
	}
	br := bufio.NewReader(c.conn)
	c.respReader = wire.NewResponseReader(br, c.cfg.Lenient)
	c.respReader.SetRequestMethod(c.req.Method)
	c.started = true
	return nil
}

func (c *ClientRequest) connectAndSend(ctx context.Context) error {
	key := c.req.poolKey()
	ep := c.req.endpoint(c.cfg.ConnectTimeout)

	task := NewRequestTask(c.req, key, c.cfg.Pool, ep, c.cfg.Dial, c.cfg.Backoff)
	result, err := runTaskToReady[HttpStreamReady, RequestTaskState](task)
	if err != nil {
		return err
	}
	if result.Kind == StreamError {
		return result.Err
	}

	conn := result.Conn
	if ep.TLS {
		backend := c.cfg.TLSBackend
		if backend == nil {
			backend = NewCryptoTLSBackend(nil)
		}
		resultCh := valtron.NewBounded[TLSResult](1)
		tlsTask := NewTLSTask(ctx, conn, ep.ServerName, backend, resultCh)
		if _, err := runTaskToReady[struct{}, TLSTaskState](tlsTask); err != nil {
			conn.Close()
			return err
		}
		tr, err := resultCh.Recv()
		if err != nil {
			conn.Close()
			return fmt.Errorf("client: tls result: %w", err)
		}
		if tr.Err != nil {
			conn.Close()
			return tr.Err
		}
		conn = tr.Stream
	}

	c.conn = conn
	return nil
}

func (c *ClientRequest) nextPart() (wire.ResponsePart, error) {
	part, err := c.respReader.Next()
	if err != nil {
		return part, err
	}
	switch part.Kind {
	case wire.PartIntro:
		c.intro = part.Intro
		if part.Intro.Status.ForbidsBody() {
			c.respReader.ApplyForbidsBody()
		}
	case wire.PartHeaders:
		c.headers = part.Headers
	}
	if c.respReader.Done() {
		c.finish()
	}
	return part, nil
}

// finish decides the fate of the underlying connection once the
// response has been fully consumed: poisoned back to the dialer on a
// close directive or HTTP/1.0 without keep-alive, otherwise returned
// to the pool.
func (c *ClientRequest) finish() {
	if c.finished || c.conn == nil {
		c.finished = true
		return
	}
	c.finished = true

	closeConn := false
	for _, d := range c.headers.ConnectionDirectives() {
		if d == "close" {
			closeConn = true
		}
	}
	if c.intro.Proto == wire.ProtoHTTP10 {
		keepAlive := false
		for _, d := range c.headers.ConnectionDirectives() {
			if d == "keep-alive" {
				keepAlive = true
			}
		}
		if !keepAlive {
			closeConn = true
		}
	}

	if closeConn || c.cfg.Pool == nil {
		c.conn.Close()
		return
	}
	c.cfg.Pool.Checkin(&pool.Entry{Key: c.req.poolKey(), Stream: c.conn})
}

// Introduction connects (if not already connected) and returns the
// response's status line and headers. It is an error to call
// Introduction a second time, or after Parts has started consuming.
func (c *ClientRequest) Introduction(ctx context.Context) (wire.ResponseIntro, wire.Headers, error) {
	if c.consumer == consumerIterator {
		return wire.ResponseIntro{}, wire.Headers{}, fmt.Errorf("%w: introduction called after parts() started", ErrStateInvalid)
	}
	if c.introduced {
		return wire.ResponseIntro{}, wire.Headers{}, fmt.Errorf("%w: introduction already called", ErrStateInvalid)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return wire.ResponseIntro{}, wire.Headers{}, err
	}
	if _, err := c.nextPart(); err != nil { // Intro
		return wire.ResponseIntro{}, wire.Headers{}, err
	}
	if _, err := c.nextPart(); err != nil { // Headers
		return wire.ResponseIntro{}, wire.Headers{}, err
	}
	c.consumer = consumerDirect
	c.introduced = true
	return c.intro, c.headers, nil
}

// Body reads (and fully buffers) the response body. It is an error to
// call Body before Introduction, to call it more than once, or to call
// it after Parts has started consuming. It also consumes a chunked
// body's trailer, if any, so the connection is left in a state safe to
// reuse.
func (c *ClientRequest) Body(ctx context.Context) (wire.SimpleBody, error) {
	if c.consumer == consumerIterator {
		return wire.SimpleBody{}, fmt.Errorf("%w: body called after parts() has advanced", ErrStateInvalid)
	}
	if !c.introduced {
		return wire.SimpleBody{}, fmt.Errorf("%w: body called before introduction", ErrStateInvalid)
	}
	if c.bodyRead {
		return wire.SimpleBody{}, fmt.Errorf("%w: body already consumed", ErrStateInvalid)
	}
	c.bodyRead = true

	part, err := c.nextPart()
	if err != nil {
		return wire.SimpleBody{}, err
	}
	if !c.respReader.Done() {
		if _, err := c.nextPart(); err != nil { // trailer
			return wire.SimpleBody{}, err
		}
	}
	return part.Body, nil
}

// ResponsePartsIterator yields a connected ClientRequest's parts one
// at a time: Intro, Headers, one or more Body, then Trailer for
// chunked responses.
type ResponsePartsIterator struct {
	cr      *ClientRequest
	ctx     context.Context
	started bool
	done    bool
}

// Parts returns an iterator over the raw response part sequence. It is
// an error for the iterator's first Next call to run after
// Introduction or Body has already consumed from this ClientRequest.
func (c *ClientRequest) Parts(ctx context.Context) *ResponsePartsIterator {
	return &ResponsePartsIterator{cr: c, ctx: ctx}
}

// Next returns the next part. more is false once the final part (the
// last Body, or a chunked response's Trailer) has been returned.
func (it *ResponsePartsIterator) Next() (part wire.ResponsePart, more bool, err error) {
	if it.done {
		return wire.ResponsePart{}, false, nil
	}
	if !it.started {
		if it.cr.consumer == consumerDirect {
			it.done = true
			return wire.ResponsePart{}, false, fmt.Errorf("%w: parts() started after introduction()/body() already consumed", ErrStateInvalid)
		}
		it.cr.consumer = consumerIterator
		it.started = true
	}
	if err := it.cr.ensureConnected(it.ctx); err != nil {
		it.done = true
		return wire.ResponsePart{}, false, err
	}
	part, err = it.cr.nextPart()
	if err != nil {
		it.done = true
		return wire.ResponsePart{}, false, err
	}
	if it.cr.respReader.Done() {
		it.done = true
		it.cr.introduced = true
		it.cr.bodyRead = true
	}
	return part, !it.done, nil
}

// Response is send()'s fully-buffered result.
type Response struct {
	Status    wire.Status
	Proto     wire.Proto
	Headers   wire.Headers
	Body      wire.SimpleBody
	Text      string
	Redirects int
}

func buildResponse(intro wire.ResponseIntro, headers wire.Headers, body wire.SimpleBody, redirects int) (*Response, error) {
	resp := &Response{Status: intro.Status, Proto: intro.Proto, Headers: headers, Body: body, Redirects: redirects}
	ct, ok := headers.Get("Content-Type")
	if !ok || !wire.IsTextualContentType(ct) {
		return resp, nil
	}
	if body.Kind == wire.BodyText {
		resp.Text = body.Text
		return resp, nil
	}
	text, err := wire.DecodeText(ct, body.Bytes)
	if err != nil {
		return nil, err
	}
	resp.Text = text
	return resp, nil
}

func cloneRedirectHeaders(h wire.Headers) wire.Headers {
	var out wire.Headers
	for _, f := range h.Fields() {
		if strings.EqualFold(f.Name, "Host") || strings.EqualFold(f.Name, "Content-Length") {
			continue
		}
		out.Add(f.Name, f.Value)
	}
	return out
}

func resolveLocation(base *uri.URI, loc string) (*uri.URI, error) {
	if u, err := uri.Parse(loc); err == nil && u.Authority != nil {
		return u, nil
	}
	if strings.HasPrefix(loc, "/") {
		return uri.Parse(base.Scheme + "://" + base.Authority.String() + loc)
	}
	dir := base.Path
	if idx := strings.LastIndexByte(dir, '/'); idx >= 0 {
		dir = dir[:idx+1]
	} else {
		dir = "/"
	}
	return uri.Parse(base.Scheme + "://" + base.Authority.String() + dir + loc)
}

// Send drives the exchange to completion, following redirects per
// cfg.RedirectPolicy (or DefaultRedirectPolicy) up to cfg.MaxRedirects
// times, and buffers the final response's body in full.
func (c *ClientRequest) Send(ctx context.Context) (*Response, error) {
	cur := c
	curReq := c.req
	redirectsLeft := c.cfg.MaxRedirects
	redirects := 0

	for {
		intro, headers, err := cur.Introduction(ctx)
		if err != nil {
			return nil, err
		}
		body, err := cur.Body(ctx)
		if err != nil {
			return nil, err
		}

		if !intro.Status.IsRedirect() || redirectsLeft <= 0 {
			return buildResponse(intro, headers, body, redirects)
		}

		loc, ok := headers.Get("Location")
		if !ok {
			return buildResponse(intro, headers, body, redirects)
		}
		nextURL, err := resolveLocation(curReq.URL, loc)
		if err != nil {
			return nil, fmt.Errorf("client: redirect location %q: %w", loc, err)
		}

		newMethod, dropBody := c.cfg.RedirectPolicy(intro.Status, curReq.Method)
		nextBody := curReq.Body
		if dropBody {
			nextBody = wire.NoBody()
		}
		curReq = &PreparedRequest{Method: newMethod, URL: nextURL, Headers: cloneRedirectHeaders(curReq.Headers), Body: nextBody}
		cur = NewClientRequest(curReq, c.cfg)
		redirectsLeft--
		redirects++
	}
}
