package services

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := NewRunStore(t.TempDir())
	if err != nil {
		t.Fatalf("new run store: %v", err)
	}
	return store
}

func TestNewRunID(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRunID()
		if !pattern.MatchString(id) {
			t.Fatalf("run id %q does not match pattern", id)
		}
		if seen[id] {
			t.Fatalf("duplicate run id %q", id)
		}
		seen[id] = true
	}
}

func TestCreateRunCollision(t *testing.T) {
	store := newTestStore(t)
	day, runID := "2025-01-15", "abcdef012345"

	if err := store.CreateRun(day, runID); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.CreateRun(day, runID); !errors.Is(err, ErrRunExists) {
		t.Fatalf("second create = %v, want ErrRunExists", err)
	}
}

func TestWriteArtifactOnce(t *testing.T) {
	store := newTestStore(t)
	day, runID := "2025-01-15", "abcdef012345"
	if err := store.CreateRun(day, runID); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.WriteArtifact(day, runID, "demo", []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.WriteArtifact(day, runID, "demo", []byte(`{}`)); !errors.Is(err, ErrArtifactExists) {
		t.Fatalf("rewrite = %v, want ErrArtifactExists", err)
	}
	if err := store.WriteArtifact(day, runID, "notes", []byte(`x`)); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("unknown kind = %v, want ErrUnknownArtifact", err)
	}
	if err := store.WriteArtifact(day, "ffffffffffff", "demo", []byte(`{}`)); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("missing run = %v, want ErrRunNotFound", err)
	}
}

func TestInputValidation(t *testing.T) {
	store := newTestStore(t)

	badDays := []string{"2025-1-15", "20250115", "../2025-01-15", "2025-01-15/x", "2025-01-15\x00"}
	for _, day := range badDays {
		if _, err := store.GetRun(day, "abcdef012345"); !errors.Is(err, ErrInvalidDay) {
			t.Fatalf("day %q: err = %v, want ErrInvalidDay", day, err)
		}
	}

	badRunIDs := []string{"short", "ABCDEF012345", "../../../etc", "abcdef01234z", "abc/def01234"}
	for _, runID := range badRunIDs {
		if _, err := store.GetRun("2025-01-15", runID); !errors.Is(err, ErrInvalidRunID) {
			t.Fatalf("run id %q: err = %v, want ErrInvalidRunID", runID, err)
		}
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	store, err := NewRunStore(root)
	if err != nil {
		t.Fatalf("new run store: %v", err)
	}

	// A day directory symlinked outside the root must not be readable
	// through the store even though its name validates.
	if err := os.Symlink(outside, filepath.Join(root, "2025-01-15")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if err := os.Mkdir(filepath.Join(outside, "abcdef012345"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := store.GetRun("2025-01-15", "abcdef012345"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("symlinked run: err = %v, want ErrUnsafePath", err)
	}
}

func TestGetRunDescriptor(t *testing.T) {
	store := newTestStore(t)
	day, runID := "2025-01-15", "abcdef012345"
	if err := store.CreateRun(day, runID); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.WriteArtifact(day, runID, "demo", []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.WriteArtifact(day, runID, "report", []byte("# report")); err != nil {
		t.Fatalf("write: %v", err)
	}

	desc, err := store.GetRun(day, runID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if desc.RunDir != day+"/"+runID {
		t.Fatalf("run dir = %q, want relative %s/%s", desc.RunDir, day, runID)
	}
	if filepath.IsAbs(desc.RunDir) {
		t.Fatalf("run dir %q exposes an absolute path", desc.RunDir)
	}
	if !desc.ArtifactsPresent["demo"] || !desc.ArtifactsPresent["report"] {
		t.Fatalf("presence flags = %v", desc.ArtifactsPresent)
	}
	if desc.ArtifactsPresent["citations"] {
		t.Fatal("citations flagged present but never written")
	}
	if desc.Links["report"] != "/runs/"+day+"/"+runID+"/report" {
		t.Fatalf("report link = %q", desc.Links["report"])
	}

	if _, err := store.GetRun(day, "0123456789ab"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("missing run: err = %v, want ErrRunNotFound", err)
	}
}

func TestArtifactPath(t *testing.T) {
	store := newTestStore(t)
	day, runID := "2025-01-15", "abcdef012345"
	store.CreateRun(day, runID)
	store.WriteArtifact(day, runID, "grounding", []byte(`{"grounding_metadata":null}`))

	path, art, err := store.ArtifactPath(day, runID, "grounding")
	if err != nil {
		t.Fatalf("artifact path: %v", err)
	}
	if filepath.Base(path) != "vertex_rag_grounding.json" {
		t.Fatalf("path = %q", path)
	}
	if art.ContentType != "application/json" {
		t.Fatalf("content type = %q", art.ContentType)
	}

	if _, _, err := store.ArtifactPath(day, runID, "report"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("missing artifact: err = %v, want ErrArtifactNotFound", err)
	}
	if _, _, err := store.ArtifactPath(day, runID, "bogus"); !errors.Is(err, ErrUnknownArtifact) {
		t.Fatalf("unknown kind: err = %v, want ErrUnknownArtifact", err)
	}
}

func TestListRuns(t *testing.T) {
	store := newTestStore(t)
	day := "2025-01-15"

	runs, err := store.ListRuns(day)
	if err != nil {
		t.Fatalf("list empty day: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("runs = %v, want empty", runs)
	}

	for _, id := range []string{"bbbbbbbbbbbb", "aaaaaaaaaaaa"} {
		if err := store.CreateRun(day, id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	runs, err = store.ListRuns(day)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0] != "aaaaaaaaaaaa" || runs[1] != "bbbbbbbbbbbb" {
		t.Fatalf("runs = %v, want sorted pair", runs)
	}

	if _, err := store.ListRuns("not-a-day"); !errors.Is(err, ErrInvalidDay) {
		t.Fatalf("bad day: err = %v, want ErrInvalidDay", err)
	}
}
