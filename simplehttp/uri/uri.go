// Package uri implements an RFC 3986 compliant URI parser tailored to
// the http and https schemes: scheme, optional authority (userinfo,
// host, port), path-and-query, and fragment.
package uri

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURI is returned for any structurally invalid input. Wrap it
// with more detail via fmt.Errorf("...: %w", ErrInvalidURI).
var ErrInvalidURI = errors.New("uri: invalid uri")

// HostKind identifies which variant a Host holds.
type HostKind int

const (
	HostName HostKind = iota
	HostIPv4
	HostIPv6
)

// Host is a tagged union over the three host forms RFC 3986 allows.
type Host struct {
	Kind  HostKind
	Value string // textual form; for HostIPv6 this excludes the brackets
}

// String renders the host in its display form, bracketing IPv6.
func (h Host) String() string {
	if h.Kind == HostIPv6 {
		return "[" + h.Value + "]"
	}
	return h.Value
}

// Authority is the userinfo/host/port component of a URI.
type Authority struct {
	UserInfo string // empty when absent
	HasUser  bool
	Host     Host
	Port     *uint16
}

func (a Authority) String() string {
	var b strings.Builder
	if a.HasUser {
		b.WriteString(a.UserInfo)
		b.WriteByte('@')
	}
	b.WriteString(a.Host.String())
	if a.Port != nil {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(*a.Port)))
	}
	return b.String()
}

// QueryPair is one key/value entry of a query string, preserved in
// insertion order with duplicates retained.
type QueryPair struct {
	Key   string
	Value string
}

// Query is an ordered, duplicate-preserving collection of query pairs.
type Query []QueryPair

// Get returns the value of the first pair with the given key.
func (q Query) Get(key string) (string, bool) {
	for _, p := range q {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// All returns every value associated with key, in order.
func (q Query) All(key string) []string {
	var out []string
	for _, p := range q {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

// Encode renders the query back to `key=value&key2=value2` form.
func (q Query) Encode() string {
	var b strings.Builder
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(encodeQueryComponent(p.Key))
		b.WriteByte('=')
		b.WriteString(encodeQueryComponent(p.Value))
	}
	return b.String()
}

// URI is the parsed, structured form of scheme:[//authority]path[?query][#fragment].
type URI struct {
	Scheme       string
	Authority    *Authority
	Path         string
	RawQuery     string
	Query        Query
	Fragment     string
	HasFragment  bool
}

var defaultPorts = map[string]uint16{
	"http":  80,
	"https": 443,
}

// PortOrDefault returns the explicit port, or the scheme's default
// port (80 for http, 443 for https) when none was given.
func (u *URI) PortOrDefault() uint16 {
	if u.Authority != nil && u.Authority.Port != nil {
		return *u.Authority.Port
	}
	return defaultPorts[strings.ToLower(u.Scheme)]
}

// Host returns the authority's host, or the zero Host if there is no
// authority.
func (u *URI) Host() Host {
	if u.Authority == nil {
		return Host{}
	}
	return u.Authority.Host
}

// String renders the canonical textual form. For any URI produced by
// Parse, Parse(u.String()) reconstructs an equal structured value.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteByte(':')
	if u.Authority != nil {
		b.WriteString("//")
		b.WriteString(u.Authority.String())
	}
	b.WriteString(u.Path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.HasFragment {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// Parse parses s per RFC 3986, returning ErrInvalidURI (wrapped with
// detail) on any structural violation.
func Parse(s string) (*URI, error) {
	rest := s

	scheme, rest, err := splitScheme(rest)
	if err != nil {
		return nil, err
	}

	var fragment string
	hasFragment := false
	if idx := strings.IndexByte(rest, '#'); idx >= 0 {
		fragment = rest[idx+1:]
		hasFragment = true
		rest = rest[:idx]
	}

	var rawQuery string
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		rawQuery = rest[idx+1:]
		rest = rest[:idx]
	}

	var authority *Authority
	if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
		end := len(rest)
		for i, c := range rest {
			if c == '/' {
				end = i
				break
			}
		}
		authStr := rest[:end]
		rest = rest[end:]

		authority, err = parseAuthority(authStr)
		if err != nil {
			return nil, err
		}
	}

	path := rest
	if path == "" {
		path = "/"
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}

	lower := strings.ToLower(scheme)
	if (lower == "http" || lower == "https") && authority == nil {
		return nil, fmt.Errorf("%w: %s requires an authority", ErrInvalidURI, lower)
	}

	query, err := ParseQuery(rawQuery)
	if err != nil {
		return nil, err
	}

	return &URI{
		Scheme:      scheme,
		Authority:   authority,
		Path:        path,
		RawQuery:    rawQuery,
		Query:       query,
		Fragment:    fragment,
		HasFragment: hasFragment,
	}, nil
}

func splitScheme(s string) (scheme, rest string, err error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 {
		return "", "", fmt.Errorf("%w: missing scheme", ErrInvalidURI)
	}
	scheme = s[:idx]
	for i, c := range scheme {
		if i == 0 {
			if !isAlpha(c) {
				return "", "", fmt.Errorf("%w: scheme must start with a letter", ErrInvalidURI)
			}
			continue
		}
		if !isAlpha(c) && !isDigit(c) && c != '+' && c != '-' && c != '.' {
			return "", "", fmt.Errorf("%w: invalid scheme character %q", ErrInvalidURI, c)
		}
	}
	return scheme, s[idx+1:], nil
}

func parseAuthority(s string) (*Authority, error) {
	a := &Authority{}

	if idx := strings.LastIndexByte(s, '@'); idx >= 0 {
		a.UserInfo = s[:idx]
		a.HasUser = true
		s = s[idx+1:]
	}

	hostPart := s
	var portPart string
	hasPort := false

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated IPv6 literal", ErrInvalidURI)
		}
		hostPart = s[1:end]
		remainder := s[end+1:]
		if strings.HasPrefix(remainder, ":") {
			portPart = remainder[1:]
			hasPort = true
		} else if remainder != "" {
			return nil, fmt.Errorf("%w: unexpected characters after IPv6 literal", ErrInvalidURI)
		}
		if net.ParseIP(hostPart) == nil {
			return nil, fmt.Errorf("%w: malformed IPv6 literal %q", ErrInvalidURI, hostPart)
		}
		a.Host = Host{Kind: HostIPv6, Value: hostPart}
	} else {
		if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
			hostPart = s[:idx]
			portPart = s[idx+1:]
			hasPort = true
		}
		if ip := net.ParseIP(hostPart); ip != nil && ip.To4() != nil {
			a.Host = Host{Kind: HostIPv4, Value: hostPart}
		} else {
			if err := validateRegName(hostPart); err != nil {
				return nil, err
			}
			normalized, err := idna.Lookup.ToASCII(hostPart)
			if err != nil {
				// Not every registered-name host is IDNA-eligible (e.g.
				// already-ASCII names with no Unicode labels); fall back
				// to the parsed form rather than rejecting the URI.
				normalized = hostPart
			}
			a.Host = Host{Kind: HostName, Value: normalized}
		}
	}

	if hasPort && portPart != "" {
		p, err := strconv.ParseUint(portPart, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidURI, portPart)
		}
		port := uint16(p)
		a.Port = &port
	}

	return a, nil
}

func validateRegName(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURI)
	}
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isUnreserved(rune(c)) || isSubDelim(rune(c)):
			i++
		case c == '%':
			if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
				return fmt.Errorf("%w: malformed percent-encoding in host", ErrInvalidURI)
			}
			i += 3
		default:
			return fmt.Errorf("%w: invalid host character %q", ErrInvalidURI, c)
		}
	}
	return nil
}

func validatePath(p string) error {
	i := 0
	for i < len(p) {
		c := p[i]
		if c == '%' {
			if i+2 >= len(p) || !isHex(p[i+1]) || !isHex(p[i+2]) {
				return fmt.Errorf("%w: malformed percent-encoding in path", ErrInvalidURI)
			}
			i += 3
			continue
		}
		i++
	}
	return nil
}

// ParseQuery parses raw (the portion after '?') into an ordered,
// duplicate-preserving Query.
func ParseQuery(raw string) (Query, error) {
	if raw == "" {
		return nil, nil
	}
	var out Query
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		var key, value string
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
			value = pair[idx+1:]
		} else {
			key = pair
		}
		dk, err := decodeQueryComponent(key)
		if err != nil {
			return nil, err
		}
		dv, err := decodeQueryComponent(value)
		if err != nil {
			return nil, err
		}
		out = append(out, QueryPair{Key: dk, Value: dv})
	}
	return out, nil
}

func decodeQueryComponent(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
				return "", fmt.Errorf("%w: malformed percent-encoding in query", ErrInvalidURI)
			}
			v := hexVal(s[i+1])<<4 | hexVal(s[i+2])
			b.WriteByte(byte(v))
			i += 2
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

func encodeQueryComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isUnreserved(rune(c)):
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isAlpha(c rune) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c rune) bool { return c >= '0' && c <= '9' }
func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}
func isUnreserved(c rune) bool {
	return isAlpha(c) || isDigit(c) || c == '-' || c == '.' || c == '_' || c == '~'
}
func isSubDelim(c rune) bool {
	switch c {
	case '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	}
	return false
}
