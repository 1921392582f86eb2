package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func renderToString(t *testing.T, req OutgoingRequest) string {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := Render(w, req); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestRenderInjectsHostAndContentLength(t *testing.T) {
	out := renderToString(t, OutgoingRequest{
		Method: MethodPost,
		Target: "/users",
		Proto:  ProtoHTTP11,
		Host:   "example.com",
		Body:   TextBody("hello"),
	})

	if !strings.Contains(out, "Host: example.com\r\n") {
		t.Fatalf("expected injected Host header, got:\n%s", out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Fatalf("expected injected Content-Length, got:\n%s", out)
	}
	if !strings.HasSuffix(out, "hello") {
		t.Fatalf("expected body to follow headers, got:\n%s", out)
	}
}

func TestRenderChunkedBodyUsesTransferEncoding(t *testing.T) {
	out := renderToString(t, OutgoingRequest{
		Method: MethodPost,
		Target: "/upload",
		Proto:  ProtoHTTP11,
		Host:   "example.com",
		Body:   ChunkedBody(nil),
	})

	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("expected Transfer-Encoding: chunked, got:\n%s", out)
	}
	if !strings.HasSuffix(out, "0\r\n\r\n") {
		t.Fatalf("expected terminal zero chunk, got:\n%s", out)
	}
}

func TestRenderRejectsCRLFInHeaderValue(t *testing.T) {
	req := OutgoingRequest{
		Method: MethodGet,
		Target: "/",
		Proto:  ProtoHTTP11,
	}
	req.Headers.Add("X-Evil", "value\r\nX-Injected: yes")

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := Render(w, req); err == nil {
		t.Fatalf("expected an error for a CRLF-bearing header value")
	}
}

func TestRenderPreservesHeaderInsertionOrderAndDuplicates(t *testing.T) {
	req := OutgoingRequest{Method: MethodGet, Target: "/", Proto: ProtoHTTP11, Host: "x"}
	req.Headers.Add("X-A", "1")
	req.Headers.Add("X-B", "2")
	req.Headers.Add("X-A", "3")

	out := renderToString(t, req)
	idxA1 := strings.Index(out, "X-A: 1")
	idxB := strings.Index(out, "X-B: 2")
	idxA2 := strings.Index(out, "X-A: 3")
	if idxA1 < 0 || idxB < 0 || idxA2 < 0 || !(idxA1 < idxB && idxB < idxA2) {
		t.Fatalf("expected headers in insertion order with duplicates preserved, got:\n%s", out)
	}
}
