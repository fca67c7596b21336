package bpp

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/bpp-build/bpp/internal/bootstrap"
	"github.com/bpp-build/bpp/internal/ui"
)

// Run is the entry point a build script's main calls. It verifies the
// binary against its own source (recompiling and exec-replacing when
// stale), runs configure against a fresh Build, plans the requested
// steps and executes the stale subset. Run does not return: it exits
// zero on success and non-zero on any fatal error.
func Run(configure func(*Build)) {
	if err := run(configure, os.Args); err != nil {
		ui.Errorf("%v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(configure func(*Build), argv []string) error {
	root, selfHosted := projectRoot(argv)

	b, err := newBuild(argv, root)
	if err != nil {
		return err
	}

	// Self-rebuild applies only when the binary sits next to its
	// source; a subproject proxy binary living in the cache skips it.
	if selfHosted {
		if err := bootstrap.RecompileIfChanged(b.store, b.root, argv); err != nil {
			return err
		}
	}

	cmd := b.newRootCommand(configure)
	cmd.SetArgs(argv[1:])
	return cmd.Execute()
}

// projectRoot locates the build script's directory: the directory of
// the running binary when build.go sits beside it, the working
// directory otherwise. The second return reports whether the binary
// can rebuild itself from that root.
func projectRoot(argv []string) (string, bool) {
	exe, err := os.Executable()
	if err == nil {
		dir := filepath.Dir(exe)
		if _, err := os.Stat(filepath.Join(dir, "build.go")); err == nil {
			return dir, true
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd, false
	}
	return ".", false
}

// writeExportedSteps emits the declared steps as JSON, for a parent
// project embedding this one as a subproject.
func (b *Build) writeExportedSteps(w io.Writer) error {
	out := make([]exportedStep, 0, len(b.steps))
	for _, s := range b.steps {
		out = append(out, exportedStep{
			Name:   s.opts.Name,
			Desc:   s.opts.Desc,
			Phony:  s.opts.Phony,
			Silent: s.opts.Silent,
		})
	}
	return json.NewEncoder(w).Encode(out)
}
