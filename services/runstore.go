package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"pmc-rag-platform/internal/logger"
	"pmc-rag-platform/models"
)

// Run store error taxonomy. Input validation and path safety are
// checked before any filesystem access; collisions are surfaced rather
// than silently overwriting an existing audit record.
var (
	ErrInvalidDay       = errors.New("invalid day format (expected YYYY-MM-DD)")
	ErrInvalidRunID     = errors.New("invalid run_id")
	ErrUnsafePath       = errors.New("path escapes runs root")
	ErrRunNotFound      = errors.New("run not found")
	ErrRunExists        = errors.New("run already exists")
	ErrUnknownArtifact  = errors.New("unknown artifact kind")
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactExists   = errors.New("artifact already written")
)

var (
	dayRegex   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	runIDRegex = regexp.MustCompile(`^[0-9a-f]{8,32}$`)
)

// Artifact maps a kind to its fixed filename and content type.
type Artifact struct {
	Filename    string
	ContentType string
}

// Artifacts enumerates every artifact kind a run may carry. Unknown
// kinds are rejected.
var Artifacts = map[string]Artifact{
	"report":    {"report.md", "text/markdown; charset=utf-8"},
	"demo":      {"vertex_rag_demo.json", "application/json"},
	"grounding": {"vertex_rag_grounding.json", "application/json"},
	"citations": {"vertex_rag_citations.json", "application/json"},
}

// RunStore persists one immutable directory per interaction under
// <root>/<day>/<run_id>. Runs are create-once: artifacts are never
// mutated in place. Concurrent requests never contend because each
// generates a fresh run id; the only atomicity required is
// create-if-absent on the run directory.
type RunStore struct {
	root string
}

// NewRunStore resolves the sandbox root to an absolute, symlink-free
// path; every later access is contained against it.
func NewRunStore(root string) (*RunStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runs root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runs root: %w", err)
	}
	return &RunStore{root: resolved}, nil
}

// NewRunID returns a fresh 12-character lowercase hex run token.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateRun creates the run directory, failing loudly on collision.
func (s *RunStore) CreateRun(day, runID string) error {
	runDir, err := s.runPath(day, runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(runDir), 0o755); err != nil {
		return fmt.Errorf("failed to create day directory: %w", err)
	}
	// os.Mkdir is the atomic create-if-absent; ErrExist means another
	// run already owns this id.
	if err := os.Mkdir(runDir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrRunExists
		}
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return nil
}

// WriteArtifact writes one artifact exactly once. A second write for
// the same kind fails rather than mutating the audit record.
func (s *RunStore) WriteArtifact(day, runID, kind string, data []byte) error {
	art, ok := Artifacts[kind]
	if !ok {
		return ErrUnknownArtifact
	}
	runDir, err := s.existingRunPath(day, runID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(runDir, art.Filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrArtifactExists
		}
		return fmt.Errorf("failed to create artifact %s: %w", kind, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", kind, err)
	}
	return nil
}

// GetRun returns the descriptor for one persisted run: artifact
// presence flags plus retrieval links.
func (s *RunStore) GetRun(day, runID string) (*models.RunDescriptor, error) {
	runDir, err := s.existingRunPath(day, runID)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(Artifacts))
	for kind, art := range Artifacts {
		info, err := os.Stat(filepath.Join(runDir, art.Filename))
		present[kind] = err == nil && info.Mode().IsRegular()
	}

	// RunDir is the path relative to the runs root; the absolute
	// sandbox location never leaves the store.
	return &models.RunDescriptor{
		Day:              day,
		RunID:            runID,
		RunDir:           day + "/" + runID,
		ArtifactsPresent: present,
		Links:            Links(day, runID),
	}, nil
}

// ArtifactPath resolves one artifact to its path and content type,
// re-checking containment on the final resolved file.
func (s *RunStore) ArtifactPath(day, runID, kind string) (string, Artifact, error) {
	art, ok := Artifacts[kind]
	if !ok {
		return "", Artifact{}, ErrUnknownArtifact
	}
	runDir, err := s.existingRunPath(day, runID)
	if err != nil {
		return "", Artifact{}, err
	}

	p := filepath.Join(runDir, art.Filename)
	if err := s.contained(p); err != nil {
		return "", Artifact{}, err
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", Artifact{}, ErrArtifactNotFound
	}
	return p, art, nil
}

// ListRuns enumerates a day's run ids, lexicographically sorted. Only
// directory entries matching the run id pattern are returned; list
// order says nothing about creation order.
func (s *RunStore) ListRuns(day string) ([]string, error) {
	if !dayRegex.MatchString(day) {
		return nil, ErrInvalidDay
	}
	dayDir := filepath.Join(s.root, day)
	if err := s.contained(dayDir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dayDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && runIDRegex.MatchString(e.Name()) {
			runs = append(runs, e.Name())
		}
	}
	return runs, nil
}

// Links returns the retrieval links for one run.
func Links(day, runID string) map[string]string {
	base := "/runs/" + day + "/" + runID
	return map[string]string{
		"run":       base,
		"report":    base + "/report",
		"demo":      base + "/demo",
		"grounding": base + "/grounding",
		"citations": base + "/citations",
	}
}

// runPath validates day and run id syntax before any path join, then
// checks containment of the joined path.
func (s *RunStore) runPath(day, runID string) (string, error) {
	if !dayRegex.MatchString(day) {
		return "", ErrInvalidDay
	}
	if !runIDRegex.MatchString(runID) {
		return "", ErrInvalidRunID
	}
	p := filepath.Join(s.root, day, runID)
	if err := s.contained(p); err != nil {
		return "", err
	}
	return p, nil
}

// existingRunPath additionally requires the run directory to exist.
func (s *RunStore) existingRunPath(day, runID string) (string, error) {
	p, err := s.runPath(day, runID)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", ErrRunNotFound
	}
	return p, nil
}

// contained rejects any path whose resolution escapes the store root.
// This is a hard security invariant: violations are logged and refused,
// never corrected.
func (s *RunStore) contained(p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return ErrUnsafePath
	}
	if !s.isDescendant(abs) {
		logger.Warn("Rejected unsafe run path", "path", p, "root", s.root)
		return ErrUnsafePath
	}
	// A symlink inside the sandbox must not point outside it.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		if !s.isDescendant(resolved) {
			logger.Warn("Rejected symlinked run path", "path", p, "resolved", resolved, "root", s.root)
			return ErrUnsafePath
		}
	}
	return nil
}

func (s *RunStore) isDescendant(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
