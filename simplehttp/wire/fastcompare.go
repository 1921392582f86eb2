package wire

import (
	"strings"

	"golang.org/x/sys/cpu"
)

// Header name comparison happens on every Get/Set/Has/Values call
// (Add appends without comparing), so it is worth a feature-gated fast
// path the same way core/optimize/simd.go gates ComparePathSIMD: detect
// once at init, then pick a branch per call based on operand length.
var (
	useWideCompare bool
)

func init() {
	useWideCompare = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD
}

// headerNameEqual reports whether a and b name the same header,
// case-insensitively. Short names (the overwhelming majority of header
// names) go through strings.EqualFold directly; longer ones take the
// wide-register-friendly path when the CPU advertises it, comparing in
// 8-byte words with ASCII case folded off each byte.
func headerNameEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) < 16 || !useWideCompare {
		return strings.EqualFold(a, b)
	}
	return foldedEqualWide(a, b)
}

func foldedEqualWide(a, b string) bool {
	n := len(a)
	i := 0
	for ; i+8 <= n; i += 8 {
		if foldByte(a[i]) != foldByte(b[i]) ||
			foldByte(a[i+1]) != foldByte(b[i+1]) ||
			foldByte(a[i+2]) != foldByte(b[i+2]) ||
			foldByte(a[i+3]) != foldByte(b[i+3]) ||
			foldByte(a[i+4]) != foldByte(b[i+4]) ||
			foldByte(a[i+5]) != foldByte(b[i+5]) ||
			foldByte(a[i+6]) != foldByte(b[i+6]) ||
			foldByte(a[i+7]) != foldByte(b[i+7]) {
			return false
		}
	}
	for ; i < n; i++ {
		if foldByte(a[i]) != foldByte(b[i]) {
			return false
		}
	}
	return true
}

func foldByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
