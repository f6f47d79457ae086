package transfer

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity(t *testing.T) {
	setupFs(t)
	writeSource(t, "/src/file", []byte("contents"), 0644)
	require.NoError(t, afero.WriteFile(fs, "/dst/same", []byte("contents"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/dst/flipped", []byte("contentz"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/dst/truncated", []byte("cont"), 0644))

	tests := []struct {
		dst string
		exp bool
	}{
		{"/dst/same", true},
		{"/dst/flipped", false},
		{"/dst/truncated", false},
		{"/dst/missing", false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.dst, func(t *testing.T) {
			ok, err := VerifyIntegrity(context.Background(), "/src/file", test.dst)
			assert.NoError(t, err)
			assert.Equal(t, test.exp, ok)
		})
	}

	_, err := VerifyIntegrity(context.Background(), "/src/missing", "/dst/same")
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	setupFs(t)
	require.NoError(t, afero.WriteFile(fs, "/a", []byte("otter"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/b", []byte("otter"), 0644))

	hashA, err := HashFile("/a")
	require.NoError(t, err)
	hashB, err := HashFile("/b")
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 88)

	_, err = HashFile("/missing")
	assert.Error(t, err)
}
