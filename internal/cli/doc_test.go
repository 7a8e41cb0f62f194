package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomorrow/api/internal/config"
	"tomorrow/api/internal/store"
)

func seededConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	doc := store.Document{
		Admins:  []store.Admin{{ID: "a1", Name: "Pastor", PassHash: "$2a$10$secretdigest"}},
		Staff:   []store.Staff{{ID: "s1", Name: "Grace", PassHash: "$2a$10$otherdigest"}},
		Members: []store.Member{{ID: "m1", Name: "Ruth"}, {ID: "m2", Name: "Boaz"}},
	}
	doc.Backfill()
	require.NoError(t, store.NewLocalFile(path).Write(doc))
	return config.Config{DataFile: path, RemoteDriver: "none", LogLevel: "error"}
}

func run(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDocShowRedactsDigests(t *testing.T) {
	cfg := seededConfig(t)

	out, err := run(t, cfg, "doc", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "secretdigest")
	assert.NotContains(t, out, "otherdigest")
	assert.Contains(t, out, `"Ruth"`)

	raw, err := run(t, cfg, "doc", "show", "--raw")
	require.NoError(t, err)
	assert.Contains(t, raw, "secretdigest")
}

func TestDocGet(t *testing.T) {
	cfg := seededConfig(t)

	out, err := run(t, cfg, "doc", "get", "members.#.name")
	require.NoError(t, err)
	assert.Equal(t, `["Ruth","Boaz"]`, strings.TrimSpace(out))

	out, err = run(t, cfg, "doc", "get", "members.#")
	require.NoError(t, err)
	assert.Equal(t, "2", strings.TrimSpace(out))

	_, err = run(t, cfg, "doc", "get", "nothing.here")
	assert.Error(t, err)
}

func TestDocHealthAndHistory(t *testing.T) {
	cfg := seededConfig(t)

	out, err := run(t, cfg, "doc", "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"remote_configured": false`)

	_, err = run(t, cfg, "doc", "history")
	assert.ErrorContains(t, err, "keeps no history")
}

func TestUnknownRemoteDriver(t *testing.T) {
	cfg := seededConfig(t)
	cfg.RemoteDriver = "ftp"

	_, err := run(t, cfg, "doc", "show")
	assert.ErrorContains(t, err, `unknown remote driver "ftp"`)
}

func TestGitHubDriverNeedsCredentials(t *testing.T) {
	cfg := seededConfig(t)
	cfg.RemoteDriver = "github"

	_, err := run(t, cfg, "doc", "health")
	assert.ErrorContains(t, err, "GITHUB_TOKEN")
}
