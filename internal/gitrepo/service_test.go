package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"tomorrow/api/internal/store"
)

func TestDocumentRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := New(filepath.Join(t.TempDir(), "db"), "main", "Avery")

	if _, err := svc.Fetch(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Fetch() on missing repo error = %v, want ErrNotFound", err)
	}

	first, err := svc.Put(ctx, []byte(`{"admins":[]}`+"\n"), "", "Create document")
	if err != nil {
		t.Fatalf("Put() create error = %v", err)
	}
	if len(first) != 40 {
		t.Fatalf("expected full commit hash, got %q", first)
	}

	snapshot, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if snapshot.Version != first {
		t.Fatalf("Fetch() version = %q, want %q", snapshot.Version, first)
	}
	if string(snapshot.Content) != `{"admins":[]}`+"\n" {
		t.Fatalf("unexpected content: %s", snapshot.Content)
	}

	second, err := svc.Put(ctx, []byte(`{"admins":[{"id":"a1"}]}`), first, "Add admin")
	if err != nil {
		t.Fatalf("Put() update error = %v", err)
	}

	history, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Version != second || history[0].Parent != first {
		t.Fatalf("unexpected head revision: %+v", history[0])
	}
	if strings.TrimSpace(history[1].Message) != "Create document" {
		t.Fatalf("unexpected first revision message: %q", history[1].Message)
	}
}

func TestPutWithStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir(), "main", "Avery")

	first, err := svc.Put(ctx, []byte(`{"v":1}`), "", "one")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := svc.Put(ctx, []byte(`{"v":2}`), first, "two"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	_, err = svc.Put(ctx, []byte(`{"v":3}`), first, "three")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Put() stale error = %v, want ErrConflict", err)
	}
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) || conflict.Expected != first || conflict.Current == "" {
		t.Fatalf("unexpected conflict detail: %+v", conflict)
	}

	if _, err := svc.Put(ctx, []byte(`{"v":3}`), "", "recreate"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Put() create over existing error = %v, want ErrConflict", err)
	}

	snapshot, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(snapshot.Content) != `{"v":2}` {
		t.Fatalf("stale write landed: %s", snapshot.Content)
	}
}

func TestConcurrentPutsOnlyOneWinsPerVersion(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir(), "main", "Avery")

	base, err := svc.Put(ctx, []byte(`{}`), "", "baseline")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := svc.Put(ctx, []byte(fmt.Sprintf(`{"writer":%d}`, idx)), base, fmt.Sprintf("Commit %02d", idx))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("Put() concurrent error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins = %d conflicts = %d, want 1 and %d", wins, conflicts, writers-1)
	}
}

func TestPutOnExistingRepoWithOtherHeadBranch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	svc := New(dir, "main", "Avery")

	first, err := svc.Put(ctx, []byte(`{"v":1}`), "", "one")
	if err != nil {
		t.Fatalf("Put() create error = %v", err)
	}
	snapshot, err := svc.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() after create error = %v", err)
	}
	if snapshot.Version != first || string(snapshot.Content) != `{"v":1}` {
		t.Fatalf("Fetch() = %q %s, want %q", snapshot.Version, snapshot.Content, first)
	}

	if _, err := svc.Put(ctx, []byte(`{"v":2}`), "", "blind"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Put() create over existing error = %v, want ErrConflict", err)
	}
	second, err := svc.Put(ctx, []byte(`{"v":2}`), first, "two")
	if err != nil {
		t.Fatalf("Put() update error = %v", err)
	}

	if _, err := repo.Reference(plumbing.NewBranchReferenceName("master"), true); !errors.Is(err, plumbing.ErrReferenceNotFound) {
		t.Fatalf("master branch should stay unborn, got err = %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil || ref.Hash().String() != second {
		t.Fatalf("main = %v (err %v), want %s", ref, err, second)
	}
}

func TestPutKeepsOtherFilesInTree(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir(), "main", "Avery")
	svc.file = "b.json"
	first, err := svc.Put(ctx, []byte(`{}`), "", "one")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	svc.file = DefaultFile
	if _, err := svc.Put(ctx, []byte(`{"v":2}`), first, "two"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	repo, err := git.PlainOpen(svc.dir)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	head, _ := svc.head(repo)
	commitObj, err := repo.CommitObject(head)
	if err != nil {
		t.Fatalf("CommitObject() error = %v", err)
	}
	for _, name := range []string{"b.json", DefaultFile} {
		if _, err := commitObj.File(name); err != nil {
			t.Fatalf("expected %s in head tree: %v", name, err)
		}
	}
}
