package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"

	"tomorrow/api/internal/store"
)

const DefaultFile = "db.json"

// Service keeps the document as one file in a local git repository. The head
// commit of the branch is the version token, so a write only lands when the
// branch has not moved since the caller last read it.
type Service struct {
	dir    string
	branch string
	file   string
	author string
	mu     sync.Mutex
}

func New(dir, branch, author string) *Service {
	if branch == "" {
		branch = "main"
	}
	if author == "" {
		author = "Tomorrow"
	}
	return &Service{dir: dir, branch: branch, file: DefaultFile, author: author}
}

func (s *Service) Name() string {
	return "git"
}

func (s *Service) Fetch(_ context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return store.Snapshot{}, store.ErrNotFound
	}
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("open repo: %w", err)
	}
	head, err := s.head(repo)
	if err != nil {
		return store.Snapshot{}, err
	}
	if head.IsZero() {
		return store.Snapshot{}, store.ErrNotFound
	}
	commitObj, err := repo.CommitObject(head)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("load commit object: %w", err)
	}
	content, err := s.readFromCommit(commitObj)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Content: content, Version: head.String()}, nil
}

func (s *Service) Put(_ context.Context, content []byte, version, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openOrInit()
	if err != nil {
		return "", err
	}
	head, err := s.head(repo)
	if err != nil {
		return "", err
	}
	current := ""
	if !head.IsZero() {
		current = head.String()
	}
	if current != version {
		return "", &store.ConflictError{Expected: version, Current: current}
	}

	hash, err := s.commit(repo, head, content, message)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// History lists commits on the branch, newest first.
func (s *Service) History(_ context.Context, limit int) ([]store.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := s.head(repo)
	if err != nil || head.IsZero() {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var items []store.Revision
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(s.branch)
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", s.branch, err)
	}
	return repo, nil
}

// head returns the branch tip, or the zero hash when the branch has no commits.
func (s *Service) head(repo *git.Repository) (plumbing.Hash, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(s.branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve branch %s: %w", s.branch, err)
	}
	return ref.Hash(), nil
}

// commit writes the document as a new commit object and moves the branch ref
// only if it still points at head. HEAD and the worktree are never touched, so
// an existing checkout on another branch stays as it is.
func (s *Service) commit(repo *git.Repository, head plumbing.Hash, content []byte, message string) (plumbing.Hash, error) {
	blobHash, err := s.writeBlob(repo, content)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	treeHash, err := s.writeTree(repo, head, blobHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	now := time.Now()
	signature := object.Signature{
		Name:  s.author,
		Email: fmt.Sprintf("%s@tomorrow.local", sanitizeEmail(s.author)),
		When:  now,
	}
	commitObj := &object.Commit{
		Author:    signature,
		Committer: signature,
		Message:   message,
		TreeHash:  treeHash,
	}
	if !head.IsZero() {
		commitObj.ParentHashes = []plumbing.Hash{head}
	}
	encoded := repo.Storer.NewEncodedObject()
	if err := commitObj.Encode(encoded); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode commit: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(encoded)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store commit: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(s.branch)
	var expected *plumbing.Reference
	if head.IsZero() {
		// no ref to compare against; re-read so a branch created meanwhile is not overwritten
		current, err := s.head(repo)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !current.IsZero() {
			return plumbing.ZeroHash, &store.ConflictError{Current: current.String()}
		}
	} else {
		expected = plumbing.NewHashReference(branchRef, head)
	}
	if err := repo.Storer.CheckAndSetReference(plumbing.NewHashReference(branchRef, hash), expected); err != nil {
		if errors.Is(err, storage.ErrReferenceHasChanged) {
			current, _ := s.head(repo)
			return plumbing.ZeroHash, &store.ConflictError{Expected: head.String(), Current: current.String()}
		}
		return plumbing.ZeroHash, fmt.Errorf("update branch %s: %w", s.branch, err)
	}
	return hash, nil
}

func (s *Service) writeBlob(repo *git.Repository, content []byte) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob writer: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}

// writeTree keeps every other entry of the parent tree and swaps in the document blob.
func (s *Service) writeTree(repo *git.Repository, head, blobHash plumbing.Hash) (plumbing.Hash, error) {
	var entries []object.TreeEntry
	if !head.IsZero() {
		parent, err := repo.CommitObject(head)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("load commit object: %w", err)
		}
		tree, err := parent.Tree()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("load tree: %w", err)
		}
		for _, entry := range tree.Entries {
			if entry.Name != s.file {
				entries = append(entries, entry)
			}
		}
	}
	entries = append(entries, object.TreeEntry{Name: s.file, Mode: filemode.Regular, Hash: blobHash})
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})

	obj := repo.Storer.NewEncodedObject()
	if err := (&object.Tree{Entries: entries}).Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store tree: %w", err)
	}
	return hash, nil
}

// git orders tree entries as if directory names ended in a slash.
func treeSortKey(entry object.TreeEntry) string {
	if entry.Mode == filemode.Dir {
		return entry.Name + "/"
	}
	return entry.Name
}

func (s *Service) readFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(s.file)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", s.file, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", s.file, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.file, err)
	}
	return content, nil
}

func toRevision(commitObj *object.Commit) store.Revision {
	rev := store.Revision{
		Version:   commitObj.Hash.String(),
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	if len(commitObj.ParentHashes) > 0 {
		rev.Parent = commitObj.ParentHashes[0].String()
	}
	return rev
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "tomorrow"
	}
	return string(out)
}
