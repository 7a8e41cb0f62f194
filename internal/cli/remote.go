package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tomorrow/api/internal/config"
	"tomorrow/api/internal/github"
	"tomorrow/api/internal/gitrepo"
	"tomorrow/api/internal/objstore"
	"tomorrow/api/internal/persist"
	"tomorrow/api/internal/store"
)

// backend is the opened persistence stack for one process.
type backend struct {
	coord   *persist.Coordinator
	history store.Historian
	db      *sql.DB
}

func (b *backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func openRemote(ctx context.Context, cfg config.Config) (store.Versioned, *sql.DB, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.RemoteDriver)); driver {
	case "", "none", "local":
		return nil, nil, nil
	case "github":
		if cfg.GitHubToken == "" || cfg.GitHubRepo == "" {
			return nil, nil, fmt.Errorf("github remote needs GITHUB_TOKEN and GITHUB_REPO")
		}
		return github.New(github.Config{
			Token:   cfg.GitHubToken,
			Repo:    cfg.GitHubRepo,
			Branch:  cfg.GitHubBranch,
			Path:    cfg.GitHubPath,
			BaseURL: cfg.GitHubAPIURL,
		}, &http.Client{Timeout: 20 * time.Second}), nil, nil
	case "git":
		return gitrepo.New(cfg.GitDir, cfg.GitHubBranch, cfg.GitAuthor), nil, nil
	case "s3":
		remote, err := objstore.New(objstore.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return remote, nil, nil
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db, cfg.DocumentPath), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote driver %q", driver)
	}
}

func openBackend(ctx context.Context, opts *RootOptions, recorder persist.Recorder) (*backend, error) {
	cfg := opts.Config
	mode, err := persist.ParseMode(cfg.WriteMode)
	if err != nil {
		return nil, err
	}
	remote, db, err := openRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &backend{db: db}
	if historian, ok := remote.(store.Historian); ok {
		b.history = historian
	}
	b.coord = persist.New(persist.Options{
		Remote:  remote,
		Local:   store.NewLocalFile(cfg.DataFile),
		Mode:    mode,
		Logger:  opts.Logger,
		Metrics: recorder,
	})
	return b, nil
}
