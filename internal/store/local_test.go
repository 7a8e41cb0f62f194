package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileMissing(t *testing.T) {
	file := NewLocalFile(filepath.Join(t.TempDir(), "data.json"))
	_, err := file.Read()
	assert.ErrorIs(t, err, ErrLocalMissing)
}

func TestLocalFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewLocalFile(path).Read()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocalMissing)
}

func TestLocalFileWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	file := NewLocalFile(path)

	doc := Default()
	doc.Members = append(doc.Members, Member{ID: "m1", Name: "Ada", Gender: "f"})
	doc.Attendance["2024-03-03"] = map[string]Attendance{"m1": {Status: "present", EditedAt: "t0"}}
	require.NoError(t, file.Write(doc))

	got, err := file.Read()
	require.NoError(t, err)
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"admins\": []")
}

func TestLocalFileToleratesHandEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	edited := `{
  // added by hand
  "members": [
    {"id": "m1", "name": "Ada", "gender": "f"},
  ],
}`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	doc, err := NewLocalFile(path).Read()
	require.NoError(t, err)
	require.Len(t, doc.Members, 1)
	assert.Equal(t, "Ada", doc.Members[0].Name)
	assert.NotNil(t, doc.Prayers)
}

func TestLocalFileQuarantine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	moved, err := NewLocalFile(path).Quarantine(time.Date(2024, 3, 3, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt-20240303T093000Z", moved)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	raw, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "{broken", string(raw))
}
