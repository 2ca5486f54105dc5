package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// SHA256 of "hello world\n".
const helloSum = "a948904f2f0f479b8f8197694b30184b0d2ed1c1cd2a1ec0fb85d299a192a447"

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileSHA256(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "hello world\n")
	sum, err := FileSHA256(path)
	require.NoError(t, err)
	require.Equal(t, helloSum, sum)
}

func TestFileSHA256Missing(t *testing.T) {
	t.Parallel()

	_, err := FileSHA256(filepath.Join(t.TempDir(), "nope.bin"))
	require.Error(t, err)
}

func TestVerifyFileHash(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "hello world\n")

	t.Run("match", func(t *testing.T) {
		require.NoError(t, VerifyFileHash(path, helloSum))
	})

	t.Run("case insensitive", func(t *testing.T) {
		require.NoError(t, VerifyFileHash(path, strings.ToUpper(helloSum)))
	})

	t.Run("mismatch", func(t *testing.T) {
		err := VerifyFileHash(path, strings.Repeat("0", 64))
		require.Error(t, err)
		require.Contains(t, err.Error(), "hash mismatch")
	})
}
