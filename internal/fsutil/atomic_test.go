package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteAtomic_CreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, WriteAtomic(path, []byte("one"), 0o644, nil))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	require.NoError(t, WriteAtomic(path, []byte("two"), 0o644, nil))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	assert.Equal(t, []string{"doc.json"}, listDir(t, dir), "no temp files left behind")
}

func TestWriteAtomic_CheckSeesTempContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	var seen string
	err := WriteAtomic(path, []byte("payload"), 0o644, func(tmp string) error {
		assert.True(t, IsTemp(tmp))
		assert.True(t, strings.HasPrefix(filepath.Base(tmp), "doc.json."))
		data, err := os.ReadFile(tmp)
		seen = string(data)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", seen)
}

func TestWriteAtomic_FailedCheckKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	reject := errors.New("rejected")
	err := WriteAtomic(path, []byte("next"), 0o644, func(string) error { return reject })
	assert.Same(t, reject, err)

	got, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "previous", string(got))
	assert.Equal(t, []string{"doc.json"}, listDir(t, dir))
}

func TestWriteAtomic_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "doc.json")
	err := WriteAtomic(path, []byte("x"), 0o644, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp")
}

func TestTempPath_Unique(t *testing.T) {
	a := TempPath("/d/0001.json")
	b := TempPath("/d/0001.json")
	assert.NotEqual(t, a, b)
	assert.True(t, IsTemp(a))
	assert.False(t, IsTemp("/d/0001.json"))
}
