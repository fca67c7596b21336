// Package depscan discovers and caches the transitive source closure
// of a compilation unit. Discovery is delegated to the toolchain's
// dependency-emit mode; the resulting Make-style depfile is stored in
// the artifact cache keyed by the scan command and source contents, so
// a source file is rescanned only when it or the command changes.
package depscan

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bpp-build/bpp/fingerprint"
	"github.com/bpp-build/bpp/internal/cache"
	"github.com/bpp-build/bpp/internal/ui"
)

// OutputPlaceholder marks where the scanner output path goes in the
// scan argv. It stays in the hashed command string, so the random tmp
// path never leaks into the scan-key.
const OutputPlaceholder = "{out}"

// ScanError reports a failed dependency scan; without the scan the
// source closure is unknowable.
type ScanError struct {
	Source string
	Cmd    string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("depscan: scan %s using %q: %v", e.Source, e.Cmd, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// SourceClosureHash returns a fingerprint covering source and every
// file its compilation transitively reads, per the toolchain's
// dependency-emit mode. argv is the scan command with
// OutputPlaceholder in place of the output path.
//
// The scan-key is hash(argv string) combined with hash(source); the
// depfile is cached under that key. The returned closure hash is the
// scan-key combined with the ordered fold of the content hashes of
// every path the depfile names.
func SourceClosureHash(store *cache.Store, argv []string, source string) (fingerprint.Fingerprint, error) {
	cmdStr := strings.Join(argv, " ")
	srcHash, err := fingerprint.File(source)
	if err != nil {
		return 0, err
	}
	scanKey := fingerprint.String(cmdStr).Combine(srcHash)

	if !store.Contains(scanKey) {
		if err := runScan(store, argv, scanKey, source, cmdStr); err != nil {
			return 0, err
		}
	}

	deps, err := ParseDepfilePath(store.ArtifactPath(scanKey))
	if err != nil {
		return 0, err
	}
	var depsHash fingerprint.Fingerprint
	for _, dep := range deps {
		fh, err := fingerprint.File(dep)
		if err != nil {
			return 0, &ScanError{Source: source, Cmd: cmdStr, Err: err}
		}
		depsHash = depsHash.Combine(fh)
	}
	return scanKey.Combine(depsHash), nil
}

func runScan(store *cache.Store, argv []string, scanKey fingerprint.Fingerprint, source, cmdStr string) error {
	tmp := store.TempPath()
	resolved := make([]string, len(argv))
	for i, a := range argv {
		resolved[i] = strings.ReplaceAll(a, OutputPlaceholder, tmp)
	}
	ui.Verbosef("scanning deps of %s", source)

	cmd := exec.Command(resolved[0], resolved[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &ScanError{Source: source, Cmd: cmdStr, Err: err}
	}
	if _, err := os.Stat(tmp); err != nil {
		return &ScanError{Source: source, Cmd: cmdStr, Err: fmt.Errorf("scanner produced no depfile: %w", err)}
	}
	return store.Promote(scanKey, tmp)
}
