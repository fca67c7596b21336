// Package bpp is a self-bootstrapping, content-addressed, parallel
// build engine. A project's build script is a small Go main program:
//
//	func main() { bpp.Run(configure) }
//
//	func configure(b *bpp.Build) {
//		exe := b.AddExe(bpp.ExeOptions{Name: "app"}, "main.cpp")
//		b.InstallExe(exe)
//	}
//
// The compiled script is the project's build tool. On every invocation
// the engine re-derives the step graph, hashes each step's inputs, and
// runs only the stale subset in parallel, promoting results into a
// content-addressed cache.
package bpp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bpp-build/bpp/fingerprint"
	"github.com/bpp-build/bpp/internal/cache"
	"github.com/bpp-build/bpp/internal/env"
)

// Build is the context a configure script populates: options, steps,
// targets, fetches and installs. It is single-threaded during the
// configure phase; the graph is frozen when the phase ends.
type Build struct {
	argv      []string
	requested []string

	reportHelp          bool
	verbose             bool
	silent              bool
	exportSteps         bool
	dumpCompileCommands bool

	root     string // project root, as chosen by projectRoot
	cacheDir string
	out      string // install prefix
	store    *cache.Store

	options map[string]Option
	defines []string // raw -D tokens, "key" or "key=value"

	steps []*Step
	objs  []*Obj
	exes  []*Exe
	libs  []*Lib
	runs  []*runEntry
	subs  []*Subproject

	compileCommands []CompileCommandsEntry

	// InstallStep gathers every install action; requesting "install"
	// materialises all of them.
	InstallStep *Step
	// BuildAllStep depends on every declared target; requesting
	// "build" builds everything without installing.
	BuildAllStep *Step

	// Jobs is the worker count for the execute phase.
	Jobs int
	// CLIArgs holds the tokens after "--", unparsed, for run steps.
	CLIArgs []string

	// GlobalFlags seed every compile and link; overlays on individual
	// targets refine them.
	GlobalFlags Flags
	// GlobalTargetFlags seed the whole-target knobs (sanitizer, debug
	// info, LTO).
	GlobalTargetFlags TargetFlags
	// StaticLinkTool is the detected archiver, empty when none was
	// found on PATH.
	StaticLinkTool string

	configureDone bool
}

type runEntry struct {
	opts RunOptions
	step *Step
}

// newBuild prepares directories and the cache store. root is the
// project root: the binary's directory when build.go sits beside it,
// otherwise the working directory (see projectRoot).
func newBuild(argv []string, root string) (*Build, error) {
	b := &Build{
		argv:        argv,
		options:     make(map[string]Option),
		GlobalFlags: EnvFlags(),
		GlobalTargetFlags: TargetFlags{
			DebugInfo: true,
		},
	}

	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	b.root = abs

	b.cacheDir = filepath.Join(b.root, env.CacheDirName())
	if filepath.IsAbs(env.CacheDirName()) {
		b.cacheDir = env.CacheDirName()
	}
	b.store, err = cache.Open(b.cacheDir)
	if err != nil {
		return nil, err
	}

	b.out = filepath.Join(b.root, env.InstallDirName())
	if filepath.IsAbs(env.InstallDirName()) {
		b.out = env.InstallDirName()
	}
	if err := os.MkdirAll(b.out, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(b.out, ".gitignore"), []byte("*"), 0o644); err != nil {
		return nil, err
	}

	b.StaticLinkTool = detectStaticLinkTool()
	return b, nil
}

// Root returns the project root directory.
func (b *Build) Root() string { return b.root }

// Out returns the install prefix directory.
func (b *Build) Out() string { return b.out }

// CacheDir returns the cache root directory.
func (b *Build) CacheDir() string { return b.cacheDir }

func detectStaticLinkTool() string {
	for _, tool := range []string{"llvm-ar", "ar"} {
		if p, err := exec.LookPath(tool); err == nil {
			return p
		}
	}
	return ""
}

// guardConfigure panics with a LateMutationError if the configure
// phase has ended.
func (b *Build) guardConfigure(kind, name string) {
	if b.configureDone {
		fatal(&LateMutationError{Kind: kind, Name: name})
	}
}

// AddStep registers a bare step. The caller wires Hash, Action, deps
// and inputs afterwards.
func (b *Build) AddStep(opts StepOptions) *Step {
	b.guardConfigure("step", opts.Name)
	s := newStep(opts)
	b.steps = append(b.steps, s)
	return s
}

// AddFile wraps a source file as a step that copies it into the cache,
// usable wherever an input edge is expected. The file's content hash
// is the step's fingerprint.
func (b *Build) AddFile(src string) LazyPath {
	b.guardConfigure("file", src)
	s := b.AddStep(StepOptions{
		Name:   "file-" + src,
		Desc:   "File " + src,
		Silent: true,
	})
	abs := b.abs(src)
	s.Hash = func(Fingerprint) (Fingerprint, error) {
		return fingerprint.File(abs)
	}
	s.Action = func(out string) error {
		return copyFile(abs, out)
	}
	return LazyPath{Step: s}
}

// AddRun registers an empty phony run step; the caller supplies the
// action.
func (b *Build) AddRun(name, desc string) *Step {
	b.guardConfigure("run step", name)
	s := b.AddStep(StepOptions{Name: name, Desc: desc, Phony: true})
	s.Hash = b.InputsHasher(HasherOptions{StableID: "Run " + name})
	return s
}

// RunOptions configure AddRunExe.
type RunOptions struct {
	Name string
	Desc string
	// WorkingDir is where the executable runs; default is the project
	// root.
	WorkingDir string
	// LDLibraryPaths are prepended to LD_LIBRARY_PATH for the run.
	LDLibraryPaths []string
	// Args are passed to the executable. Append b.CLIArgs to forward
	// the tokens after "--".
	Args []string
}

// AddRunExe registers a phony step that runs the built executable.
func (b *Build) AddRunExe(exe *Exe, opts RunOptions) *Step {
	b.guardConfigure("run step", opts.Name)
	s := b.AddStep(StepOptions{Name: opts.Name, Desc: opts.Desc, Phony: true})
	s.AddInput(LazyPath{Step: exe.LinkStep})
	b.runs = append(b.runs, &runEntry{opts: opts, step: s})

	s.Action = func(string) error {
		bin, err := b.resolveLazyPath(s.inputs[0])
		if err != nil {
			return err
		}
		cmd := exec.Command(bin, opts.Args...)
		cmd.Dir = b.root
		if opts.WorkingDir != "" {
			cmd.Dir = b.abs(opts.WorkingDir)
		}
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), ldLibraryPathEnv(opts.LDLibraryPaths))
		return cmd.Run()
	}
	return s
}

func ldLibraryPathEnv(paths []string) string {
	parts := append([]string{}, paths...)
	if cur := os.Getenv("LD_LIBRARY_PATH"); cur != "" {
		parts = append(parts, cur)
	}
	return "LD_LIBRARY_PATH=" + strings.Join(parts, ":")
}

// HasherOptions describe a declarative hash closure: a stable
// identifier salt plus directories, files and strings to mix in.
type HasherOptions struct {
	StableID string
	Dirs     []string
	Files    []string
	Strings  []string
}

// InputsHasher builds a HashFunc folding the HasherOptions over the
// dependency accumulator. Relative paths resolve against the project
// root.
func (b *Build) InputsHasher(opts HasherOptions) HashFunc {
	return func(h Fingerprint) (Fingerprint, error) {
		h = h.Combine(fingerprint.String(opts.StableID))
		for _, dir := range opts.Dirs {
			dh, err := fingerprint.Dir(b.abs(dir))
			if err != nil {
				return 0, err
			}
			h = h.Combine(dh)
		}
		for _, file := range opts.Files {
			fh, err := fingerprint.File(b.abs(file))
			if err != nil {
				return 0, err
			}
			h = h.Combine(fh)
		}
		for _, s := range opts.Strings {
			h = h.Combine(fingerprint.String(s))
		}
		return h, nil
	}
}

// abs resolves a possibly relative path against the project root.
func (b *Build) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.root, p)
}

// resolveLazyPath turns an input edge into a concrete path: the
// referenced step's artifact (plus optional sub-path) or a root-
// relative plain path.
func (b *Build) resolveLazyPath(lp LazyPath) (string, error) {
	if lp.Step == nil {
		if lp.Path == "" {
			return "", fmt.Errorf("input edge has neither step nor path")
		}
		return b.abs(lp.Path), nil
	}
	if !lp.Step.fpSet {
		return "", fmt.Errorf("input step %q has no fingerprint yet", lp.Step.opts.Name)
	}
	base := b.store.ArtifactPath(lp.Step.fp)
	if lp.Path == "" {
		return base, nil
	}
	return filepath.Join(base, lp.Path), nil
}

// CompletedInputs resolves every input edge of step to its artifact
// path. Valid only from inside an action, after the inputs completed.
func (b *Build) CompletedInputs(step *Step) ([]string, error) {
	res := make([]string, 0, len(step.inputs))
	for _, in := range step.inputs {
		if in.Step != nil && !in.Step.isCompleted() {
			return nil, fmt.Errorf("input step %q of step %q is not completed", in.Step.opts.Name, step.opts.Name)
		}
		p, err := b.resolveLazyPath(in)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// preConfigure declares the umbrella steps and the self-build compile
// command entry, and loads the option catalogue.
func (b *Build) preConfigure() error {
	if err := b.loadOptionCatalogue(); err != nil {
		return err
	}
	b.declareBuiltinOptions()

	b.InstallStep = b.AddStep(StepOptions{
		Name:   "install",
		Desc:   "Install targets",
		Phony:  true,
		Silent: true,
	})
	b.InstallStep.Hash = b.InputsHasher(HasherOptions{StableID: "install-all"})

	b.BuildAllStep = b.AddStep(StepOptions{
		Name:   "build",
		Desc:   "Build all targets",
		Silent: true,
	})
	b.BuildAllStep.Hash = b.InputsHasher(HasherOptions{StableID: "build-all"})

	b.recordSelfCompileCommand()
	return nil
}

// postConfigure freezes the graph and renders derived outputs that
// want the complete step set.
func (b *Build) postConfigure() error {
	b.recordObjCompileCommands()
	if b.dumpCompileCommands {
		if err := b.dumpCompileCommandsJSON(filepath.Join(b.root, "compile_commands.json")); err != nil {
			return err
		}
	}
	b.configureDone = true
	return nil
}

// runBuild plans the requested steps and executes the stale subset.
func (b *Build) runBuild() error {
	if b.reportHelp {
		b.printHelp()
		return nil
	}
	if b.Jobs <= 0 {
		b.Jobs = runtime.NumCPU()
	}
	order, err := b.plan(b.requested)
	if err != nil {
		return err
	}
	return b.execute(order)
}

// copyFile copies a regular file, preserving the mode bits.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, fi.Mode().Perm())
}

// copyAll copies src (file or directory) to dst recursively,
// overwriting existing entries.
func copyAll(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return copyFile(src, dst)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyAll(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
