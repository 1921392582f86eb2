package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/searchktools/valtron/simplehttp/retry"
	"github.com/searchktools/valtron/simplehttp/wire"
)

func TestBuildRejectsMissingAuthority(t *testing.T) {
	_, err := NewRequestBuilder(wire.MethodGet, "/just/a/path").Build()
	if err == nil {
		t.Fatalf("expected ErrNoAuthority for a url without a host")
	}
}

func TestBuildSetsContentTypeAndHost(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodPost, "http://example.com/users").Text("hello").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ct, _ := req.Headers.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("expected default text content type, got %q", ct)
	}
	if req.URL.Host().Value != "example.com" {
		t.Fatalf("expected host example.com, got %q", req.URL.Host().Value)
	}
}

func TestDefaultRedirectPolicy(t *testing.T) {
	cases := []struct {
		code       int
		method     wire.Method
		wantMethod wire.Method
		wantDrop   bool
	}{
		{307, wire.MethodPost, wire.MethodPost, false},
		{308, wire.MethodPut, wire.MethodPut, false},
		{303, wire.MethodPost, wire.MethodGet, true},
		{301, wire.MethodPost, wire.MethodGet, true},
		{302, wire.MethodGet, wire.MethodGet, false},
	}
	for _, c := range cases {
		gotMethod, gotDrop := DefaultRedirectPolicy(wire.NewStatus(c.code, ""), c.method)
		if gotMethod != c.wantMethod || gotDrop != c.wantDrop {
			t.Errorf("status %d method %s: got (%s,%v), want (%s,%v)", c.code, c.method, gotMethod, gotDrop, c.wantMethod, c.wantDrop)
		}
	}
}

// pipeDialer returns a Dialer that always hands back the client half of
// a net.Pipe, running serve against the server half in its own
// goroutine. It lets tests exercise ClientRequest without a real
// listener or DNS resolution.
func pipeDialer(t *testing.T, serve func(server net.Conn)) retry.Dialer {
	t.Helper()
	return func(ctx context.Context, ep retry.Endpoint) (net.Conn, error) {
		client, server := net.Pipe()
		go serve(server)
		return client, nil
	}
}

func TestClientRequestSendReadsFullResponse(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf) // drain the request line/headers
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 18\r\n\r\nHello from server!"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})
	resp, err := cr.Send(context.Background())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status.Code != 200 {
		t.Fatalf("expected 200, got %d", resp.Status.Code)
	}
	if string(resp.Body.Bytes) != "Hello from server!" {
		t.Fatalf("unexpected body: %q", resp.Body.Bytes)
	}
}

func TestClientRequestIntroductionThenBody(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 18\r\nConnection: close\r\n\r\nHello from server!"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})

	intro, headers, err := cr.Introduction(context.Background())
	if err != nil {
		t.Fatalf("introduction: %v", err)
	}
	if intro.Status.Code != 200 {
		t.Fatalf("expected status 200, got %d", intro.Status.Code)
	}
	if cl, _ := headers.Get("Content-Length"); cl != "18" {
		t.Fatalf("expected Content-Length 18, got %q", cl)
	}

	body, err := cr.Body(context.Background())
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if string(body.Bytes) != "Hello from server!" {
		t.Fatalf("unexpected body: %q", body.Bytes)
	}
}

func TestClientRequestPartsYieldsIntroHeadersBody(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})
	it := cr.Parts(context.Background())

	var kinds []wire.PartKind
	for {
		part, more, err := it.Next()
		if err != nil {
			t.Fatalf("parts: %v", err)
		}
		kinds = append(kinds, part.Kind)
		if !more {
			break
		}
	}

	if len(kinds) != 3 || kinds[0] != wire.PartIntro || kinds[1] != wire.PartHeaders || kinds[2] != wire.PartBody {
		t.Fatalf("unexpected part sequence: %+v", kinds)
	}
}

func TestClientRequestBodyBeforeIntroductionErrors(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})

	if _, err := cr.Body(context.Background()); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected ErrStateInvalid calling Body before Introduction, got %v", err)
	}
}

func TestClientRequestIntroductionCalledTwiceErrors(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})

	if _, _, err := cr.Introduction(context.Background()); err != nil {
		t.Fatalf("first introduction: %v", err)
	}
	if _, _, err := cr.Introduction(context.Background()); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected ErrStateInvalid calling Introduction twice, got %v", err)
	}
}

func TestClientRequestBodyAfterPartsAdvancedErrors(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})

	it := cr.Parts(context.Background())
	if _, _, err := it.Next(); err != nil {
		t.Fatalf("parts next: %v", err)
	}

	if _, err := cr.Body(context.Background()); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected ErrStateInvalid calling Body after parts() advanced, got %v", err)
	}
	if _, _, err := cr.Introduction(context.Background()); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected ErrStateInvalid calling Introduction after parts() advanced, got %v", err)
	}
}

func TestClientRequestPartsAfterIntroductionErrors(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/status").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})

	if _, _, err := cr.Introduction(context.Background()); err != nil {
		t.Fatalf("introduction: %v", err)
	}

	it := cr.Parts(context.Background())
	if _, _, err := it.Next(); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected ErrStateInvalid calling parts() after introduction(), got %v", err)
	}
}

func TestClientRequestFollowsRedirect(t *testing.T) {
	req, err := NewRequestBuilder(wire.MethodGet, "http://example.com/old").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	first := true
	dial := pipeDialer(t, func(server net.Conn) {
		defer server.Close()
		buf := make([]byte, 4096)
		server.Read(buf)
		if first {
			first = false
			server.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /new\r\nContent-Length: 0\r\n\r\n"))
			return
		}
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	})

	cr := NewClientRequest(req, ClientRequestConfig{Dial: dial, Backoff: retry.NewBackoff(2, 0, time.Millisecond, time.Millisecond, 1, 1)})
	resp, err := cr.Send(context.Background())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status.Code != 200 || resp.Redirects != 1 {
		t.Fatalf("expected a single followed redirect landing on 200, got status=%d redirects=%d", resp.Status.Code, resp.Redirects)
	}
}
