package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.local")
	require.NoError(t, os.WriteFile(path, []byte("# local\nIO_TEST_A=\"quoted\"\nIO_TEST_B = plain\nnot a pair\n"), 0644))
	old := envLocalFile
	envLocalFile = path
	t.Cleanup(func() { envLocalFile = old })

	assert.Equal(t, "quoted", LoadEnvLocal("IO_TEST_A"))
	assert.Equal(t, "plain", Getenv("IO_TEST_B"))
	assert.Equal(t, "", LoadEnvLocal("IO_TEST_MISSING"))

	t.Setenv("IO_TEST_B", "from env")
	assert.Equal(t, "from env", Getenv("IO_TEST_B"))

	envLocalFile = filepath.Join(t.TempDir(), "missing")
	assert.Equal(t, "", Getenv("IO_TEST_A"))
}
