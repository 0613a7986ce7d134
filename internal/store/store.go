package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors for the store's failure taxonomy
var (
	ErrNotFound     = errors.New("module not found")
	ErrNotOwner     = errors.New("caller is not the module owner")
	ErrInvalidCode  = errors.New("invalid module code")
	ErrInvalidLabel = errors.New("invalid label")
)

// File names of the per-module metadata pieces
const (
	ownerFile    = "owner.txt"
	nameFile     = "name.txt"
	statusFile   = "status.txt"
	manifestFile = "manifest.json"
	stagingDir   = "staging"

	// AudioExt is the extension of canonical audio files
	AudioExt = ".wav"

	// DemoOwner owns the built-in demo module
	DemoOwner = "demo"
)

// Module describes one persisted training module
type Module struct {
	Code   string `json:"code"`
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// ManifestEntry is one item of a completed module's content listing
type ManifestEntry struct {
	File       string `json:"file"`
	Name       string `json:"name"`
	Transcript string `json:"transcript"`
}

// Store is a directory-per-module filesystem store. Each module directory
// is an independent unit written only by that module's pipeline worker, so
// the store itself needs no cross-module locking; individual metadata
// writes are atomic replaces.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a store rooted at the given directory, creating it if needed
func New(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}

	return &Store{root: root, logger: logger}, nil
}

// CreateModule allocates a fresh code and persists owner, display name and
// an initial PENDING status. Metadata is fully written before the function
// returns, so a concurrent reader never observes a half-created module.
func (s *Store) CreateModule(owner, name string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("owner cannot be empty")
	}
	if name == "" {
		return "", fmt.Errorf("display name cannot be empty")
	}

	// Collision odds on 5 random bytes are negligible; the retry loop is
	// purely defensive.
	var code string
	for attempt := 0; attempt < 5; attempt++ {
		c, err := NewCode()
		if err != nil {
			return "", err
		}
		if _, statErr := os.Stat(s.moduleDir(c)); os.IsNotExist(statErr) {
			code = c
			break
		}
	}
	if code == "" {
		return "", fmt.Errorf("failed to allocate a unique module code")
	}

	dir := s.moduleDir(code)
	if err := os.MkdirAll(filepath.Join(dir, stagingDir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create module directory: %w", err)
	}

	if err := atomicWrite(filepath.Join(dir, ownerFile), []byte(owner)); err != nil {
		return "", err
	}
	if err := atomicWrite(filepath.Join(dir, nameFile), []byte(name)); err != nil {
		return "", err
	}
	if err := s.SetStatus(code, Status{State: StatePending}); err != nil {
		return "", err
	}

	s.logger.Info("Module created",
		slog.String("code", code),
		slog.String("owner", owner),
		slog.String("name", name),
	)

	return code, nil
}

// ReadModule returns the persisted metadata for code
func (s *Store) ReadModule(code string) (Module, error) {
	if err := ValidateCode(code); err != nil {
		return Module{}, err
	}

	dir := s.moduleDir(code)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return Module{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}

	owner, err := os.ReadFile(filepath.Join(dir, ownerFile))
	if err != nil {
		return Module{}, fmt.Errorf("failed to read module owner: %w", err)
	}

	name, err := os.ReadFile(filepath.Join(dir, nameFile))
	if err != nil {
		return Module{}, fmt.Errorf("failed to read module name: %w", err)
	}

	status, err := s.GetStatus(code)
	if err != nil {
		return Module{}, err
	}

	return Module{
		Code:   code,
		Owner:  strings.TrimSpace(string(owner)),
		Name:   strings.TrimSpace(string(name)),
		Status: status,
	}, nil
}

// ReadModuleOwned reads a module and verifies the caller owns it. Owner
// gated operations (delete, QR export) go through this instead of
// checking ownership themselves.
func (s *Store) ReadModuleOwned(code, owner string) (Module, error) {
	module, err := s.ReadModule(code)
	if err != nil {
		return Module{}, err
	}

	if module.Owner != owner {
		return Module{}, fmt.Errorf("%w: %s", ErrNotOwner, code)
	}

	return module, nil
}

// ListModulesByOwner returns every module owned by owner, sorted by code
func (s *Store) ListModulesByOwner(owner string) ([]Module, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage root: %w", err)
	}

	var modules []Module
	for _, entry := range entries {
		if !entry.IsDir() || ValidateCode(entry.Name()) != nil {
			continue
		}

		module, err := s.ReadModule(entry.Name())
		if err != nil {
			s.logger.Warn("Skipping unreadable module directory",
				slog.String("code", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}

		if module.Owner == owner {
			modules = append(modules, module)
		}
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].Code < modules[j].Code })

	return modules, nil
}

// DeleteModule removes all persisted state for code. A second delete of
// the same code reports ErrNotFound.
func (s *Store) DeleteModule(code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}

	dir := s.moduleDir(code)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete module %s: %w", code, err)
	}

	s.logger.Info("Module deleted", slog.String("code", code))

	return nil
}

// GetStatus reads the status marker. Safe under concurrent writes because
// the marker is only ever replaced atomically.
func (s *Store) GetStatus(code string) (Status, error) {
	if err := ValidateCode(code); err != nil {
		return Status{}, err
	}

	data, err := os.ReadFile(filepath.Join(s.moduleDir(code), statusFile))
	if os.IsNotExist(err) {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read status marker: %w", err)
	}

	return ParseStatus(string(data)), nil
}

// SetStatus atomically replaces the status marker
func (s *Store) SetStatus(code string, status Status) error {
	if err := ValidateCode(code); err != nil {
		return err
	}

	return atomicWrite(filepath.Join(s.moduleDir(code), statusFile), []byte(status.Marker()))
}

// Manifest returns the module's content listing. The listing is empty
// until the pipeline has written it, which only happens at completion.
func (s *Store) Manifest(code string) ([]ManifestEntry, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	if _, err := os.Stat(s.moduleDir(code)); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}

	data, err := os.ReadFile(filepath.Join(s.moduleDir(code), manifestFile))
	if os.IsNotExist(err) {
		return []ManifestEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return entries, nil
}

// WriteManifest atomically replaces the module's content listing
func (s *Store) WriteManifest(code string, entries []ManifestEntry) error {
	if err := ValidateCode(code); err != nil {
		return err
	}

	if _, err := os.Stat(s.moduleDir(code)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	return atomicWrite(filepath.Join(s.moduleDir(code), manifestFile), data)
}

// StageUpload streams one raw upload into the module's staging area and
// returns the staged path
func (s *Store) StageUpload(code string, r io.Reader) (string, error) {
	if err := ValidateCode(code); err != nil {
		return "", err
	}

	dir := filepath.Join(s.moduleDir(code), stagingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}

	return path, nil
}

// RemoveStaging removes the module's staging area and any leftover raw files
func (s *Store) RemoveStaging(code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}

	return os.RemoveAll(filepath.Join(s.moduleDir(code), stagingDir))
}

// WriteCanonical atomically persists canonical audio at the label-derived
// path and returns the stored filename
func (s *Store) WriteCanonical(code, label string, data []byte) (string, error) {
	if err := ValidateCode(code); err != nil {
		return "", err
	}

	safe, err := SafeLabel(label)
	if err != nil {
		return "", err
	}

	filename := safe + AudioExt
	if err := atomicWrite(filepath.Join(s.moduleDir(code), filename), data); err != nil {
		return "", err
	}

	return filename, nil
}

// ResolveAudio maps a scanned label to the module's canonical audio path.
// Labels that would resolve outside the module's own subtree are rejected
// with ErrInvalidLabel; the QR payload namespace is untrusted input.
func (s *Store) ResolveAudio(code, label string) (string, error) {
	if err := ValidateCode(code); err != nil {
		return "", err
	}

	safe, err := SafeLabel(label)
	if err != nil {
		return "", err
	}

	dir := s.moduleDir(code)
	path := filepath.Clean(filepath.Join(dir, safe+AudioExt))
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes module storage", ErrInvalidLabel, label)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: no audio for label %q in module %s", ErrNotFound, label, code)
	} else if err != nil {
		return "", fmt.Errorf("failed to stat audio file: %w", err)
	}

	return path, nil
}

// EnsureDemo creates the built-in demo module if it does not exist yet.
// The demo module is COMPLETE from the start so trainees can exercise the
// scan flow without a trainer upload.
func (s *Store) EnsureDemo() error {
	if _, err := os.Stat(s.moduleDir(DemoCode)); err == nil {
		return nil
	}

	dir := s.moduleDir(DemoCode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create demo module: %w", err)
	}

	if err := atomicWrite(filepath.Join(dir, ownerFile), []byte(DemoOwner)); err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, nameFile), []byte("Demo Module")); err != nil {
		return err
	}
	if err := s.WriteManifest(DemoCode, []ManifestEntry{}); err != nil {
		return err
	}
	if err := s.SetStatus(DemoCode, Status{State: StateComplete}); err != nil {
		return err
	}

	s.logger.Info("Demo module created", slog.String("code", DemoCode))

	return nil
}

// ModuleCount returns the number of stored modules, for health reporting
func (s *Store) ModuleCount() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list storage root: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() && ValidateCode(entry.Name()) == nil {
			count++
		}
	}

	return count, nil
}

func (s *Store) moduleDir(code string) string {
	return filepath.Join(s.root, code)
}

// atomicWrite replaces path in a single rename so a concurrent reader sees
// either the old content or the new, never a truncated file
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}
