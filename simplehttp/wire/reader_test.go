package wire

import (
	"bufio"
	"strings"
	"testing"
)

func TestRequestReaderParsesSizedBody(t *testing.T) {
	raw := "POST /users HTTP/1.1\r\nHost: x\r\nContent-Length: 12\r\nContent-Type: text/html\r\nConnection: close\r\n\r\nHello world!"
	rr := NewRequestReader(bufio.NewReader(strings.NewReader(raw)), false)

	intro, err := rr.Next()
	if err != nil {
		t.Fatalf("intro: %v", err)
	}
	if intro.Intro.Method != MethodPost || intro.Intro.Target != "/users" || intro.Intro.Proto != ProtoHTTP11 {
		t.Fatalf("unexpected intro: %+v", intro.Intro)
	}

	headers, err := rr.Next()
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	if v, _ := headers.Headers.Get("Host"); v != "x" {
		t.Fatalf("expected Host x, got %q", v)
	}
	if v, _ := headers.Headers.Get("Content-Length"); v != "12" {
		t.Fatalf("expected Content-Length 12, got %q", v)
	}

	body, err := rr.Next()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Body.Kind != BodyBytes || string(body.Body.Bytes) != "Hello world!" {
		t.Fatalf("unexpected body: %+v", body.Body)
	}

	if !rr.Done() {
		t.Fatalf("expected reader to be done")
	}
}

func TestResponseReaderParsesSizedBody(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 18\r\n\r\nHello from server!"
	resp := NewResponseReader(bufio.NewReader(strings.NewReader(raw)), false)

	intro, err := resp.Next()
	if err != nil {
		t.Fatalf("intro: %v", err)
	}
	if intro.Intro.Status.Code != 200 || intro.Intro.Status.Reason != "OK" {
		t.Fatalf("unexpected status: %+v", intro.Intro.Status)
	}

	if _, err := resp.Next(); err != nil {
		t.Fatalf("headers: %v", err)
	}

	body, err := resp.Next()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if string(body.Body.Bytes) != "Hello from server!" {
		t.Fatalf("unexpected body: %q", body.Body.Bytes)
	}
}

func TestResponseReaderContentLengthZeroYieldsNoBody(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n"
	resp := NewResponseReader(bufio.NewReader(strings.NewReader(raw)), false)

	if _, err := resp.Next(); err != nil {
		t.Fatalf("intro: %v", err)
	}
	if _, err := resp.Next(); err != nil {
		t.Fatalf("headers: %v", err)
	}
	body, err := resp.Next()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Body.Kind != BodyNone {
		t.Fatalf("expected BodyNone, got %v", body.Body.Kind)
	}
}

func TestResponseReaderChunkedSingleEmptyChunk(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n"
	resp := NewResponseReader(bufio.NewReader(strings.NewReader(raw)), false)

	if _, err := resp.Next(); err != nil {
		t.Fatalf("intro: %v", err)
	}
	if _, err := resp.Next(); err != nil {
		t.Fatalf("headers: %v", err)
	}
	body, err := resp.Next()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Body.Kind != BodyNone {
		t.Fatalf("expected BodyNone for an empty chunked body, got %v", body.Body.Kind)
	}

	trailer, err := resp.Next()
	if err != nil {
		t.Fatalf("trailer: %v", err)
	}
	if trailer.Kind != PartTrailer || trailer.Trailer.Len() != 0 {
		t.Fatalf("expected an empty trailer part, got %+v", trailer)
	}
}

func TestResponseReaderChunkedWithData(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nHello\r\n0\r\n\r\n"
	resp := NewResponseReader(bufio.NewReader(strings.NewReader(raw)), false)

	if _, err := resp.Next(); err != nil {
		t.Fatalf("intro: %v", err)
	}
	if _, err := resp.Next(); err != nil {
		t.Fatalf("headers: %v", err)
	}
	body, err := resp.Next()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if string(body.Body.Bytes) != "Hello" {
		t.Fatalf("expected body 'Hello', got %q", body.Body.Bytes)
	}
}

func TestResponseReaderChunkedWinsOverContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 999\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nHi\r\n0\r\n\r\n"
	resp := NewResponseReader(bufio.NewReader(strings.NewReader(raw)), false)

	if _, err := resp.Next(); err != nil {
		t.Fatalf("intro: %v", err)
	}
	if _, err := resp.Next(); err != nil {
		t.Fatalf("headers: %v", err)
	}
	body, err := resp.Next()
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if string(body.Body.Bytes) != "Hi" {
		t.Fatalf("expected chunked framing to win over Content-Length, got %q", body.Body.Bytes)
	}
}

func TestRequestReaderLenientAcceptsBareLF(t *testing.T) {
	raw := "GET / HTTP/1.1\nHost: x\n\n"
	rr := NewRequestReader(bufio.NewReader(strings.NewReader(raw)), true)

	if _, err := rr.Next(); err != nil {
		t.Fatalf("intro: %v", err)
	}
	if _, err := rr.Next(); err != nil {
		t.Fatalf("headers: %v", err)
	}
}

func TestRequestReaderStrictRejectsBareLF(t *testing.T) {
	raw := "GET / HTTP/1.1\nHost: x\n\n"
	rr := NewRequestReader(bufio.NewReader(strings.NewReader(raw)), false)

	if _, err := rr.Next(); err == nil {
		t.Fatalf("expected strict mode to reject a bare LF line ending")
	}
}

func TestHeadersFoldingJoinsContinuationLines(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Long: part-one\r\n part-two\r\n\r\n"
	rr := NewRequestReader(bufio.NewReader(strings.NewReader(raw)), false)

	if _, err := rr.Next(); err != nil {
		t.Fatalf("intro: %v", err)
	}
	headers, err := rr.Next()
	if err != nil {
		t.Fatalf("headers: %v", err)
	}
	v, ok := headers.Headers.Get("X-Long")
	if !ok || v != "part-one part-two" {
		t.Fatalf("expected folded header value, got %q", v)
	}
}
