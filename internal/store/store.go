// Package store is the orchestrator's persistence layer: a projects.json
// registry plus one tasks.json document per project, both guarded by
// advisory file locks so the CLI, the dispatch loop, and the gateway can
// share a data root from separate processes without a database.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/agentkanban/orchestrator/internal/types"
)

// Store is the file-backed persistence layer rooted at a data directory.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the configured data root.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) registryPath() string {
	return filepath.Join(s.root, "projects.json")
}

func (s *Store) tasksPath(projectID string) string {
	return filepath.Join(s.root, "projects", projectID, "tasks.json")
}

// ReadRegistry loads the project registry, seeding the default project on
// first read if the file doesn't exist yet.
func (s *Store) ReadRegistry() (*types.Registry, error) {
	var reg *types.Registry
	err := withLockedFile(s.registryPath(), os.O_RDONLY|os.O_CREATE, syscall.LOCK_SH, func(f *os.File) error {
		r, err := decodeRegistry(f)
		if err != nil {
			return err
		}
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// WriteRegistry persists reg atomically under an exclusive lock.
func (s *Store) WriteRegistry(reg *types.Registry) error {
	reg.SchemaVersion = registrySchemaVersion
	return withLockedFile(s.registryPath(), os.O_RDWR|os.O_CREATE, syscall.LOCK_EX, func(f *os.File) error {
		return atomicWriteJSON(s.registryPath(), reg)
	})
}

// MutateRegistry reads the registry, exclusive-locks the file for the
// duration of fn, and writes back whatever fn produces. fn may return an
// error to abort the write entirely.
func (s *Store) MutateRegistry(fn func(*types.Registry) error) error {
	return withLockedFile(s.registryPath(), os.O_RDWR|os.O_CREATE, syscall.LOCK_EX, func(f *os.File) error {
		reg, err := decodeRegistry(f)
		if err != nil {
			return err
		}
		if err := fn(reg); err != nil {
			return err
		}
		reg.SchemaVersion = registrySchemaVersion
		return atomicWriteJSON(s.registryPath(), reg)
	})
}

const registrySchemaVersion = 1

func decodeRegistry(f *os.File) (*types.Registry, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat registry: %w", err)
	}
	if info.Size() == 0 {
		return seedRegistry(), nil
	}
	var reg types.Registry
	if err := json.NewDecoder(f).Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return &reg, nil
}

func seedRegistry() *types.Registry {
	now := time.Now().UTC()
	return &types.Registry{
		SchemaVersion: registrySchemaVersion,
		Projects: []types.Project{{
			ID:        types.DefaultProjectID,
			Name:      "Default",
			Status:    types.ProjectActive,
			CreatedAt: now,
			UpdatedAt: now,
		}},
	}
}

// ReadTasks loads the per-project tasks document, seeding an empty one on
// first read.
func (s *Store) ReadTasks(projectID string) (*types.Document, error) {
	var doc *types.Document
	err := withLockedFile(s.tasksPath(projectID), os.O_RDONLY|os.O_CREATE, syscall.LOCK_SH, func(f *os.File) error {
		d, err := decodeDocument(f)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// WriteTasks persists doc atomically, recomputing Meta from the current
// task list before writing.
func (s *Store) WriteTasks(projectID string, doc *types.Document) error {
	return withLockedFile(s.tasksPath(projectID), os.O_RDWR|os.O_CREATE, syscall.LOCK_EX, func(f *os.File) error {
		normalizeDocument(doc)
		return atomicWriteJSON(s.tasksPath(projectID), doc)
	})
}

// MutateTasks reads a project's tasks document, exclusive-locks the file
// for the duration of fn, and writes back the mutated document. This is
// the primitive every state-changing kernel operation is built on: it is
// the sole point where two processes can race, and the flock makes that
// race safe.
func (s *Store) MutateTasks(projectID string, fn func(*types.Document) error) error {
	return withLockedFile(s.tasksPath(projectID), os.O_RDWR|os.O_CREATE, syscall.LOCK_EX, func(f *os.File) error {
		doc, err := decodeDocument(f)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		normalizeDocument(doc)
		return atomicWriteJSON(s.tasksPath(projectID), doc)
	})
}

func decodeDocument(f *os.File) (*types.Document, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat tasks document: %w", err)
	}
	if info.Size() == 0 {
		return &types.Document{SchemaVersion: types.SchemaVersion}, nil
	}
	var doc types.Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tasks document: %w", err)
	}
	return &doc, nil
}

// normalizeDocument recomputes Meta and trims the event ring to its cap.
// Called on every write so Meta never drifts from the task list it
// describes.
func normalizeDocument(doc *types.Document) {
	doc.SchemaVersion = types.SchemaVersion

	var completed, failed, aTasks, bTasks int
	for _, t := range doc.Tasks {
		switch t.Status {
		case types.StatusCompleted:
			completed++
		case types.StatusFailed:
			failed++
		}
		switch t.RoutedEngine {
		case types.EngineA:
			aTasks++
		case types.EngineB:
			bTasks++
		}
	}
	denom := completed + failed
	if denom == 0 {
		denom = 1
	}
	successRate := float64(completed) / float64(denom)
	doc.Meta = types.Meta{
		LastUpdated:    time.Now().UTC(),
		TotalCompleted: completed,
		SuccessRate:    successRate,
		ATasks:         aTasks,
		BTasks:         bTasks,
		SchemaVersion:  types.SchemaVersion,
	}

	if over := len(doc.Events) - types.EventsCap; over > 0 {
		doc.Events = doc.Events[over:]
	}
}

// ListProjectIDs walks the data root's projects directory. Used by the
// dispatch loop to discover which projects need a cycle.
func (s *Store) ListProjectIDs() ([]string, error) {
	dir := filepath.Join(s.root, "projects")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list project dirs: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// withLockedFile takes the requested flock mode on path's sidecar lock file
// (same stem, ".lock" extension), then opens path with flags and hands it to
// fn, releasing the lock on return. The lock lives on a separate file because
// atomicWriteJSON replaces path by rename, which would leave a waiter locked
// on the old, unlinked inode.
func withLockedFile(path string, flags int, lockMode int, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	lockPath := path[:len(path)-len(filepath.Ext(path))] + ".lock"
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", lockPath, err)
	}
	defer func() {
		_ = lf.Close() //nolint:errcheck // unlock below releases the advisory lock regardless
	}()

	if err := syscall.Flock(int(lf.Fd()), lockMode); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) //nolint:errcheck // unlock best-effort
	}()

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-side handle; writes go through atomicWriteJSON
	}()

	return fn(f)
}

// atomicWriteJSON marshals v and writes it to path via a temp-file-then-
// rename, so a crash mid-write never leaves a half-written document.
func atomicWriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place %s: %w", path, err)
	}
	success = true
	return nil
}
