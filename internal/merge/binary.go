package merge

import "bytes"

// sniffLen is how much of a file is inspected for NUL bytes.
const sniffLen = 8000

// IsBinary reports whether data looks binary: a NUL byte within the first
// 8000 bytes. Binary content is never merged line by line.
func IsBinary(data []byte) bool {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}
