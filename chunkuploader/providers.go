package chunkuploader

import (
	"fmt"
	"io"
	"os"
)

// ChunkProvider returns the bytes of a planned part.
// GetChunk is called once per part and may be called from several workers at the same time.
type ChunkProvider interface {
	GetChunk(part Part) ([]byte, error)
}

// FileChunkProvider reads parts from a file on disk.
// Reads are positional, so parallel workers never share a file offset.
type FileChunkProvider struct {
	file *os.File
	size int64
}

// NewFileChunkProvider opens path for reading.
func NewFileChunkProvider(path string) (*FileChunkProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileChunkProvider{
		file: file,
		size: info.Size(),
	}, nil
}

// Size returns the file size observed when the provider was opened.
func (p *FileChunkProvider) Size() int64 {
	return p.size
}

// GetChunk reads exactly part.Length bytes at part.Offset.
func (p *FileChunkProvider) GetChunk(part Part) ([]byte, error) {
	if part.Offset < 0 || part.Length < 0 || part.Offset+part.Length > p.size {
		return nil, fmt.Errorf("%s is outside of file of %d bytes", part, p.size)
	}

	chunk := make([]byte, part.Length)
	if part.Length == 0 {
		return chunk, nil
	}

	if _, err := io.ReadFull(io.NewSectionReader(p.file, part.Offset, part.Length), chunk); err != nil {
		return nil, fmt.Errorf("read part %d: %w", part.Number, err)
	}
	return chunk, nil
}

// Close closes the underlying file.
func (p *FileChunkProvider) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// ByteSliceChunkProvider serves parts from a payload already held in memory.
type ByteSliceChunkProvider struct {
	data []byte
}

// NewByteSliceChunkProvider ...
func NewByteSliceChunkProvider(data []byte) *ByteSliceChunkProvider {
	return &ByteSliceChunkProvider{data: data}
}

// GetChunk returns a copy of the part's byte range.
func (p *ByteSliceChunkProvider) GetChunk(part Part) ([]byte, error) {
	end := part.Offset + part.Length
	if part.Offset < 0 || part.Length < 0 || end > int64(len(p.data)) {
		return nil, fmt.Errorf("%s is outside of payload of %d bytes", part, len(p.data))
	}

	chunk := make([]byte, part.Length)
	copy(chunk, p.data[part.Offset:end])
	return chunk, nil
}
