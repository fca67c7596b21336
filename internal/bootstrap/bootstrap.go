// Package bootstrap keeps the configure binary current with its own
// source. Before the configure phase runs, the engine hashes the
// configure script's source closure; if it differs from the hash
// recorded on the last successful build, the binary is recompiled with
// the baked command and the running process is replaced by the fresh
// image, carrying the original arguments.
package bootstrap

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/sys/unix"

	"github.com/bpp-build/bpp/fingerprint"
	"github.com/bpp-build/bpp/internal/cache"
	"github.com/bpp-build/bpp/internal/ui"
)

// CompileCommand is the command used to rebuild the configure binary
// from its source directory. Baked at build time; override with
//
//	-ldflags "-X github.com/bpp-build/bpp/internal/bootstrap.CompileCommand=..."
var CompileCommand = "go build"

// RecompileError reports that the self-rebuild could not produce a
// runnable binary. When only the final exec-replace fails, the rebuilt
// binary is already on disk.
type RecompileError struct {
	Reason string
	Err    error
}

func (e *RecompileError) Error() string {
	return fmt.Sprintf("bootstrap: recompile build tool (%s): %v", e.Reason, e.Err)
}

func (e *RecompileError) Unwrap() error { return e.Err }

// SourceClosureHash fingerprints the configure script's sources: the
// baked compile command combined with the unordered fold of every .go
// file directly in scriptDir. The Go toolchain has no Make-style
// dependency-emit mode, so the directory's sources stand in for the
// transitive closure; the engine library itself is versioned by the
// binary that embeds it.
func SourceClosureHash(scriptDir string) (fingerprint.Fingerprint, error) {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".go") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	h := fingerprint.String(CompileCommand)
	var files fingerprint.Fingerprint
	for _, name := range names {
		fh, err := fingerprint.File(filepath.Join(scriptDir, name))
		if err != nil {
			return 0, err
		}
		files = files.CombineUnordered(fingerprint.String(name).Combine(fh))
	}
	return h.Combine(files), nil
}

// RecompileIfChanged compares the current source-closure hash against
// the one stored in the cache. On mismatch (or a missing hash file) it
// rewrites the hash file, rebuilds the binary at argv[0] and replaces
// the process image with it, passing argv verbatim. On success it does
// not return.
func RecompileIfChanged(store *cache.Store, scriptDir string, argv []string) error {
	newHash, err := SourceClosureHash(scriptDir)
	if err != nil {
		return &RecompileError{Reason: "hashing configure sources", Err: err}
	}

	data, err := os.ReadFile(store.SelfHashPath())
	if err != nil {
		return recompileAndExec(store, scriptDir, argv, newHash, "build tool hash file missing, can't verify self-consistency")
	}
	oldHash, err := fingerprint.Parse(strings.TrimSpace(string(data)))
	if err != nil || oldHash != newHash {
		return recompileAndExec(store, scriptDir, argv, newHash, "source hashes differ")
	}
	return nil
}

func recompileAndExec(store *cache.Store, scriptDir string, argv []string, newHash fingerprint.Fingerprint, reason string) error {
	// Record the new hash before compiling so a broken script does not
	// recompile forever.
	if err := os.WriteFile(store.SelfHashPath(), []byte(newHash.String()), 0o644); err != nil {
		return &RecompileError{Reason: reason, Err: err}
	}

	self, err := filepath.Abs(argv[0])
	if err != nil {
		return &RecompileError{Reason: reason, Err: err}
	}

	words, err := shlex.Split(CompileCommand)
	if err != nil || len(words) == 0 {
		return &RecompileError{Reason: reason, Err: fmt.Errorf("bad compile command %q: %v", CompileCommand, err)}
	}
	words = append(words, "-o", self, ".")

	ui.Warnf("[*] Recompiling build tool, because %s...", reason)
	cmd := exec.Command(words[0], words[1:]...)
	cmd.Dir = scriptDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		os.Remove(store.SelfHashPath())
		return &RecompileError{Reason: reason, Err: err}
	}

	if err := unix.Exec(self, argv, os.Environ()); err != nil {
		// Exec only returns on failure; force re-evaluation next run.
		os.Remove(store.SelfHashPath())
		return &RecompileError{Reason: reason, Err: fmt.Errorf("exec %s: %w", self, err)}
	}
	return nil
}
