// Package unsafehelpers centralises the module's few unavoidable uses of the
// `unsafe` package so the codec stays easy to audit: zero-copy string/[]byte
// conversions and alignment math for the binary codec's region padding (the
// ID table and levels regions pad to an 8-byte boundary, neighbor-count rows
// pad to 4 bytes).
//
// © 2025 hnsw-index authors. MIT License.
package unsafehelpers

import "unsafe"

// BytesToString converts b to a string without allocating. The caller must
// guarantee b is never mutated afterwards: Decode uses this to view each id
// directly out of its input buffer rather than copying, which also means the
// whole decode buffer stays reachable for as long as any one id string
// extracted from it does.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes views s as a []byte without allocating. The result MUST be
// treated as read-only; the codec only uses it as the source of a copy into
// an output buffer, never to retain or mutate.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	strHdr := (*[2]uintptr)(unsafe.Pointer(&s))
	return unsafe.Slice((*byte)(unsafe.Pointer(strHdr[0])), strHdr[1])
}

// AlignUp rounds x up to the nearest multiple of align (a power of two).
func AlignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}
