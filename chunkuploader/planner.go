package chunkuploader

import (
	"fmt"

	"github.com/trendcast/go-mediautils/uploaderr"
)

// TotalParts returns ceil(fileSize / partSize), at least 1.
func TotalParts(fileSize, partSize int64) int {
	if partSize <= 0 {
		return 0
	}
	n := fileSize / partSize
	if fileSize%partSize != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return int(n)
}

// Plan splits [0, fileSize) into consecutive parts of partSize bytes; the last one may be shorter.
// An empty file yields a single zero-length part so there is still something to commit against.
func Plan(fileSize, partSize int64) ([]Part, error) {
	if partSize <= 0 {
		return nil, &uploaderr.ConfigurationError{Field: "part size", Reason: fmt.Sprintf("must be positive, got %d", partSize)}
	}
	if fileSize < 0 {
		return nil, &uploaderr.ConfigurationError{Field: "file size", Reason: fmt.Sprintf("must not be negative, got %d", fileSize)}
	}

	total := TotalParts(fileSize, partSize)
	parts := make([]Part, 0, total)
	for i := 0; i < total; i++ {
		offset := int64(i) * partSize
		length := partSize
		if remaining := fileSize - offset; remaining < length {
			length = remaining
		}
		parts = append(parts, Part{
			Number: i + 1,
			Offset: offset,
			Length: length,
		})
	}
	return parts, nil
}
