package chunkuploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trendcast/go-mediautils/uploaderr"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		fileSize int64
		partSize int64
		want     []Part
	}{
		{
			name:     "last part is shorter",
			fileSize: 10000,
			partSize: 4096,
			want: []Part{
				{Number: 1, Offset: 0, Length: 4096},
				{Number: 2, Offset: 4096, Length: 4096},
				{Number: 3, Offset: 8192, Length: 1808},
			},
		},
		{
			name:     "exact multiple",
			fileSize: 8192,
			partSize: 4096,
			want: []Part{
				{Number: 1, Offset: 0, Length: 4096},
				{Number: 2, Offset: 4096, Length: 4096},
			},
		},
		{
			name:     "file smaller than a part",
			fileSize: 10,
			partSize: 4096,
			want:     []Part{{Number: 1, Offset: 0, Length: 10}},
		},
		{
			name:     "empty file",
			fileSize: 0,
			partSize: 4096,
			want:     []Part{{Number: 1, Offset: 0, Length: 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.fileSize, tt.partSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlan_CoversFileContiguously(t *testing.T) {
	for _, fileSize := range []int64{1, 4095, 4096, 4097, 1 << 20, 5*1024*1024 + 3} {
		parts, err := Plan(fileSize, 4096)
		require.NoError(t, err)
		assert.Equal(t, TotalParts(fileSize, 4096), len(parts))

		var next int64
		for i, p := range parts {
			assert.Equal(t, i+1, p.Number)
			assert.Equal(t, next, p.Offset)
			assert.Positive(t, p.Length)
			assert.LessOrEqual(t, p.Length, int64(4096))
			next += p.Length
		}
		assert.Equal(t, fileSize, next)
	}
}

func TestPlan_InvalidInput(t *testing.T) {
	for _, partSize := range []int64{0, -1} {
		_, err := Plan(100, partSize)
		var configErr *uploaderr.ConfigurationError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, "part size", configErr.Field)
	}

	_, err := Plan(-1, 10)
	var configErr *uploaderr.ConfigurationError
	require.ErrorAs(t, err, &configErr)
}
