package testutil

import (
	"crypto/md5"
	"encoding/hex"
)

// MD5Hex returns the MD5 checksum of data as a lowercase hex string.
// Matches the checksum format the server reports for ROM files.
func MD5Hex(data []byte) string {
	h := md5.Sum(data)
	return hex.EncodeToString(h[:])
}

// Payload returns n bytes of deterministic, non-repeating-looking content.
func Payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + i/251) % 256)
	}
	return b
}
