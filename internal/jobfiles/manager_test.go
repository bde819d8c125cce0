package jobfiles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveOriginalAndNaming(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	path, err := m.SaveOriginal("job-1", "pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, m.OriginalPath("job-1", "pdf"), path)
	assert.True(t, strings.HasSuffix(path, "job-1_original.pdf"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestDeleteJobFilesRemovesOnlyOwnFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	for _, name := range []string{
		"job-1_original.pdf",
		"job-1_page_1.png",
		"job-1_page_2.png",
		"job-1_preprocessed.png",
		"job-2_original.png",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	errs := m.DeleteJobFiles("job-1")
	assert.Empty(t, errs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-2_original.png", entries[0].Name())
}

func TestDeleteJobFilesMissingIsNoError(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	assert.Empty(t, m.DeleteJobFiles("never-existed"))
}

func TestJobIDsOnDisk(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	for _, name := range []string{
		"job-1_original.pdf",
		"job-1_page_1.png",
		"job-2_preprocessed.png",
		"unrelated.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	ids, err := m.JobIDsOnDisk()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "job-1")
	assert.Contains(t, ids, "job-2")
}

func TestJobIDsOnDiskMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope"), nil)
	ids, err := m.JobIDsOnDisk()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestJobIDFromFilename(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"abc_original.pdf", "abc", true},
		{"abc_page_3.png", "abc", true},
		{"abc_preprocessed.png", "abc", true},
		{"abc_def_page_1.png", "abc_def", true},
		{"notes.txt", "", false},
		{"_original.pdf", "", false},
	}
	for _, tc := range cases {
		id, ok := jobIDFromFilename(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.id, id, tc.name)
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_original.pdf"), []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_page_1.png"), []byte("123"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_original.png"), []byte("1"), 0o644))

	st, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, int64(9), st.TotalBytes)
	assert.Equal(t, 2, st.Jobs)
}
