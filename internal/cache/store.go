// Package cache implements the content-addressed artifact store.
//
// On-disk layout under the cache root:
//
//	<root>/
//	  arts/<decimal-u64>   # one artifact (file or directory) per fingerprint
//	  tmp/                 # in-progress outputs, wiped at startup
//	  bpp.hash             # configure-script source-closure fingerprint
//	  bpp.options          # option catalogue from past runs
//	  .gitignore           # auto-written "*"
//
// Entries under arts/ are immutable: once a fingerprint exists its
// artifact is the canonical result and is never rewritten.
package cache

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/bpp-build/bpp/fingerprint"
)

// PromotionError reports a failed move of a finished artifact from
// tmp/ into arts/.
type PromotionError struct {
	Fingerprint fingerprint.Fingerprint
	TmpPath     string
	Err         error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("cache: promote %s from %s: %v", e.Fingerprint, e.TmpPath, e.Err)
}

func (e *PromotionError) Unwrap() error { return e.Err }

// Store maps fingerprints to artifact paths under a single cache root.
type Store struct {
	root string
}

// Open prepares the cache directories under root: arts/ is created if
// missing, tmp/ is wiped and recreated, and a .gitignore covering the
// whole tree is written.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	s := &Store{root: abs}
	if err := os.MkdirAll(s.artsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", s.artsDir(), err)
	}
	if err := os.RemoveAll(s.tmpDir()); err != nil {
		return nil, fmt.Errorf("cache: wipe %s: %w", s.tmpDir(), err)
	}
	if err := os.MkdirAll(s.tmpDir(), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", s.tmpDir(), err)
	}
	if err := os.WriteFile(filepath.Join(abs, ".gitignore"), []byte("*"), 0o644); err != nil {
		return nil, fmt.Errorf("cache: write .gitignore: %w", err)
	}
	return s, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) artsDir() string { return filepath.Join(s.root, "arts") }
func (s *Store) tmpDir() string  { return filepath.Join(s.root, "tmp") }

// ArtifactPath returns the canonical artifact location for fp. The
// entry may or may not exist.
func (s *Store) ArtifactPath(fp fingerprint.Fingerprint) string {
	return filepath.Join(s.artsDir(), fp.String())
}

// Contains reports whether an artifact for fp exists.
func (s *Store) Contains(fp fingerprint.Fingerprint) bool {
	_, err := os.Lstat(s.ArtifactPath(fp))
	return err == nil
}

// TempPath mints a fresh path under tmp/ by uniform 64-bit sampling
// until an unused name is found. The path itself is not created.
func (s *Store) TempPath() string {
	for {
		p := filepath.Join(s.tmpDir(), fmt.Sprintf("%d", rand.Uint64()))
		if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
	}
}

// Promote moves a finished output from its tmp path to arts/<fp> with
// a single rename. If an artifact for fp already exists (a concurrent
// worker won the race), the existing entry is authoritative: the tmp
// output is discarded and Promote succeeds.
func (s *Store) Promote(fp fingerprint.Fingerprint, tmpPath string) error {
	dst := s.ArtifactPath(fp)
	if s.Contains(fp) {
		os.RemoveAll(tmpPath)
		return nil
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		if s.Contains(fp) {
			os.RemoveAll(tmpPath)
			return nil
		}
		return &PromotionError{Fingerprint: fp, TmpPath: tmpPath, Err: err}
	}
	return nil
}

// SelfHashPath returns the path of the configure-script closure hash
// file.
func (s *Store) SelfHashPath() string { return filepath.Join(s.root, "bpp.hash") }

// OptionsPath returns the path of the option catalogue file.
func (s *Store) OptionsPath() string { return filepath.Join(s.root, "bpp.options") }
