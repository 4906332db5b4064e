package export

import (
	"bytes"

	"github.com/xitongsys/parquet-go/source"
)

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error) { return m, nil }

// Seek reports the write position; the parquet writer only appends.
func (m *memoryFile) Seek(int64, int) (int64, error) {
	return int64(m.buffer.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error) { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error { return nil }
func (m *memoryFile) Bytes() []byte { return m.buffer.Bytes() }
