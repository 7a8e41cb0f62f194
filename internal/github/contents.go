// Package github stores the document as a single file in a GitHub repository
// through the REST contents API. The blob sha of the file is the version token.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tomorrow/api/internal/store"
)

const (
	DefaultBaseURL = "https://api.github.com"

	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
)

type Config struct {
	Token   string
	Repo    string
	Branch  string
	Path    string
	BaseURL string
}

type Store struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) *Store {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Path == "" {
		cfg.Path = "data/db.json"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &Store{cfg: cfg, client: client}
}

func (s *Store) Name() string {
	return "github"
}

func (s *Store) Fetch(ctx context.Context) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	endpoint := s.contentsURL() + "?ref=" + url.QueryEscape(s.cfg.Branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("build fetch request: %w", err)
	}
	body, status, err := s.do(req)
	if err != nil {
		return store.Snapshot{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return store.Snapshot{}, store.ErrNotFound
	case status != http.StatusOK:
		return store.Snapshot{}, responseError("fetch", status, body)
	}

	parsed := gjson.ParseBytes(body)
	sha := parsed.Get("sha").String()
	encoded := parsed.Get("content").String()
	if sha == "" || !parsed.Get("content").Exists() {
		return store.Snapshot{}, fmt.Errorf("fetch %s: response has no content", s.cfg.Path)
	}
	content, err := base64.StdEncoding.DecodeString(stripNewlines(encoded))
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("decode %s: %w", s.cfg.Path, err)
	}
	return store.Snapshot{Content: content, Version: sha}, nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

func (s *Store) Put(ctx context.Context, content []byte, version, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	payload, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  s.cfg.Branch,
		SHA:     version,
	})
	if err != nil {
		return "", fmt.Errorf("encode put request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentsURL(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := s.do(req)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return "", &store.ConflictError{Expected: version}
	default:
		return "", responseError("put", status, body)
	}
	return gjson.GetBytes(body, "content.sha").String(), nil
}

func (s *Store) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, s.cfg.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %w", req.Method, err)
	}
	return body, resp.StatusCode, nil
}

func (s *Store) contentsURL() string {
	segments := strings.Split(strings.Trim(s.cfg.Path, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("%s/repos/%s/contents/%s", s.cfg.BaseURL, s.cfg.Repo, strings.Join(segments, "/"))
}

func responseError(op string, status int, body []byte) error {
	message := gjson.GetBytes(body, "message").String()
	if message == "" {
		message = http.StatusText(status)
	}
	return fmt.Errorf("github %s: status %d: %s", op, status, message)
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
