/*
Package simplehttp groups the HTTP/1.1 client pipeline built on top of
valtron: URI parsing (uri), wire framing and entities (wire), the
connection pool (pool), reconnect-with-backoff (retry), DNS resolution
(dns) and the request/TLS tasks plus the ClientRequest facade (client).

None of these packages depend on an async runtime; connection setup,
TLS handshakes and request writes are all driven as valtron tasks, so a
caller can run the whole pipeline on a Single executor or fold it into
a larger Multi-scheduled workload.
*/
package simplehttp
