// Package mmap provides read-only memory mapping of shard files, with a
// plain-read fallback on platforms without mmap support.
package mmap

// Mapping is a read-only view of a file's contents.
type Mapping struct {
	data   []byte
	mapped bool // false when the fallback buffered the file instead
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Open maps the named file read-only.
func Open(path string) (*Mapping, error) {
	return openPlatform(path)
}
