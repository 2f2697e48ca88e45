package checksum

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_WholeFileMatchesDirectMD5(t *testing.T) {
	data := bytes.Repeat([]byte("precache"), 10000)
	table, err := Sum(bytes.NewReader(data), 4096)
	require.NoError(t, err)

	want := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(want[:]), table.WholeFile)
}

func TestSum_BlocksCoverWholeInput(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10000)
	table, err := Sum(bytes.NewReader(data), 4096)
	require.NoError(t, err)

	var total int64
	for i, b := range table.Blocks {
		assert.Equal(t, total, b.Offset)
		total += b.Length
		if i < len(table.Blocks)-1 {
			assert.EqualValues(t, 4096, b.Length)
		}
	}
	assert.EqualValues(t, len(data), total)
}

func TestWriteSidecar_RoundTrips(t *testing.T) {
	data := bytes.Repeat([]byte("roundtrip"), 5000)
	table, err := Sum(bytes.NewReader(data), 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "entity", "data.checksums")
	_, err = WriteSidecar(path, table)
	require.NoError(t, err)

	loaded, err := ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, table.WholeFile, loaded.WholeFile)
	assert.Equal(t, table.ChunkSize, loaded.ChunkSize)
	assert.Equal(t, len(table.Blocks), len(loaded.Blocks))
	for i := range table.Blocks {
		assert.Equal(t, table.Blocks[i], loaded.Blocks[i])
	}
}

func TestSum_RejectsNonPositiveChunkSize(t *testing.T) {
	_, err := Sum(bytes.NewReader([]byte("x")), 0)
	assert.Error(t, err)
}
