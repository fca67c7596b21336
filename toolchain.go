package bpp

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/kballard/go-shellquote"

	"github.com/bpp-build/bpp/fingerprint"
	"github.com/bpp-build/bpp/internal/depscan"
	"github.com/bpp-build/bpp/internal/env"
	"github.com/bpp-build/bpp/internal/ui"
)

// Define is a preprocessor definition; an empty Value renders as a
// bare -Dname.
type Define struct {
	Name  string
	Value string
}

// Optimize selects the optimization level knob.
type Optimize int

const (
	OptimizeDefault Optimize = iota
	OptimizeO0
	OptimizeO1
	OptimizeO2
	OptimizeO3
	OptimizeFast
)

func (o Optimize) flag() string {
	switch o {
	case OptimizeO0:
		return "-O0"
	case OptimizeO1:
		return "-O1"
	case OptimizeO2:
		return "-O2"
	case OptimizeO3:
		return "-O3"
	case OptimizeFast:
		return "-Ofast"
	}
	return ""
}

// Standard selects the language standard knob.
type Standard int

const (
	StandardDefault Standard = iota
	StandardCXX11
	StandardCXX14
	StandardCXX17
	StandardCXX20
	StandardCXX23
)

func (s Standard) flag() string {
	switch s {
	case StandardCXX11:
		return "-std=c++11"
	case StandardCXX14:
		return "-std=c++14"
	case StandardCXX17:
		return "-std=c++17"
	case StandardCXX20:
		return "-std=c++20"
	case StandardCXX23:
		return "-std=c++23"
	}
	return ""
}

// Flags is the fully resolved flag set a compile or link runs with.
type Flags struct {
	CompileDriver   string
	IncludePaths    []LazyPath // -I
	LibraryPaths    []LazyPath // -L
	Libraries       []LazyPath // -l: by path
	SystemLibraries []string   // -l by name
	Defines         []Define   // -D
	Warnings        bool
	Optimize        Optimize
	Standard        Standard
	Extra           string
}

// FlagsOverlay refines the global flag set per target. Unset scalar
// knobs inherit; list knobs concatenate after the inherited entries.
type FlagsOverlay struct {
	CompileDriver   string // "" inherits
	IncludePaths    []LazyPath
	LibraryPaths    []LazyPath
	Libraries       []LazyPath
	SystemLibraries []string
	Defines         []Define
	Warnings        *bool
	Optimize        *Optimize
	Standard        *Standard
	Extra           string
}

// TargetFlags are the knobs that must agree between the objects and
// the link of one executable or library.
type TargetFlags struct {
	ASan      bool
	DebugInfo bool
	LTO       bool
}

// TargetFlagsOverlay refines TargetFlags per target; nil fields
// inherit the global setting.
type TargetFlagsOverlay struct {
	ASan      *bool
	DebugInfo *bool
	LTO       *bool
}

// EnvFlags derives the initial global flag set from the environment:
// CXX for the compile driver, CXXFLAGS appended verbatim.
func EnvFlags() Flags {
	return Flags{
		CompileDriver: env.CompileDriver(),
		Warnings:      true,
		Optimize:      OptimizeO1,
		Standard:      StandardCXX17,
		Extra:         env.ExtraFlags(),
	}
}

// mergeFlags applies an overlay to the global flag set.
func (b *Build) mergeFlags(o FlagsOverlay) Flags {
	f := b.GlobalFlags
	if o.CompileDriver != "" {
		f.CompileDriver = o.CompileDriver
	}
	f.IncludePaths = append(append([]LazyPath{}, f.IncludePaths...), o.IncludePaths...)
	f.LibraryPaths = append(append([]LazyPath{}, f.LibraryPaths...), o.LibraryPaths...)
	f.Libraries = append(append([]LazyPath{}, f.Libraries...), o.Libraries...)
	f.SystemLibraries = append(append([]string{}, f.SystemLibraries...), o.SystemLibraries...)
	f.Defines = append(append([]Define{}, f.Defines...), o.Defines...)
	if o.Warnings != nil {
		f.Warnings = *o.Warnings
	}
	if o.Optimize != nil {
		f.Optimize = *o.Optimize
	}
	if o.Standard != nil {
		f.Standard = *o.Standard
	}
	if o.Extra != "" {
		if f.Extra != "" {
			f.Extra += " "
		}
		f.Extra += o.Extra
	}
	return f
}

// mergeTargetFlags resolves a whole-target overlay against the global
// settings. A nil overlay yields the globals.
func (b *Build) mergeTargetFlags(o *TargetFlagsOverlay) TargetFlags {
	t := b.GlobalTargetFlags
	if o == nil {
		return t
	}
	if o.ASan != nil {
		t.ASan = *o.ASan
	}
	if o.DebugInfo != nil {
		t.DebugInfo = *o.DebugInfo
	}
	if o.LTO != nil {
		t.LTO = *o.LTO
	}
	return t
}

// renderFlags appends the merged flag set to argv in canonical order:
// driver, extra, defines, optimization, standard, warnings toggle,
// include paths, library paths.
func (b *Build) renderFlags(o FlagsOverlay) ([]string, error) {
	f := b.mergeFlags(o)
	argv := []string{f.CompileDriver}
	if f.Extra != "" {
		extra, err := shlex.Split(f.Extra)
		if err != nil {
			return nil, fmt.Errorf("bad extra flags %q: %w", f.Extra, err)
		}
		argv = append(argv, extra...)
	}
	for _, def := range f.Defines {
		if def.Value == "" {
			argv = append(argv, "-D"+def.Name)
		} else {
			argv = append(argv, "-D"+def.Name+"="+def.Value)
		}
	}
	if flag := f.Optimize.flag(); flag != "" {
		argv = append(argv, flag)
	}
	if flag := f.Standard.flag(); flag != "" {
		argv = append(argv, flag)
	}
	if !f.Warnings {
		argv = append(argv, "-w")
	}
	for _, inc := range f.IncludePaths {
		p, err := b.resolveLazyPath(inc)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "-I"+p)
	}
	for _, lp := range f.LibraryPaths {
		p, err := b.resolveLazyPath(lp)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "-L"+p)
	}
	return argv, nil
}

// renderLibs appends the library arguments: path libraries as -l:,
// system libraries as -l.
func (b *Build) renderLibs(argv []string, o FlagsOverlay) ([]string, error) {
	f := b.mergeFlags(o)
	for _, lib := range f.Libraries {
		p, err := b.resolveLazyPath(lib)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "-l:"+p)
	}
	for _, lib := range f.SystemLibraries {
		argv = append(argv, "-l"+lib)
	}
	return argv, nil
}

// renderTargetFlags appends the whole-target toggles.
func (b *Build) renderTargetFlags(argv []string, o *TargetFlagsOverlay) []string {
	t := b.mergeTargetFlags(o)
	if t.DebugInfo {
		argv = append(argv, "-g")
	}
	if t.ASan {
		argv = append(argv, "-fsanitize=address")
	}
	if t.LTO {
		argv = append(argv, "-flto")
	}
	return argv
}

// renderCompileArgv assembles the full object-compile command. An
// empty out omits the -o pair (used for compile_commands entries);
// scan commands pass depscan.OutputPlaceholder as out instead.
func (b *Build) renderCompileArgv(opts ObjOptions, out string) ([]string, error) {
	argv, err := b.renderFlags(opts.Flags)
	if err != nil {
		return nil, err
	}
	argv = b.renderTargetFlags(argv, opts.target)
	argv = append(argv, "-c", b.abs(opts.Source))
	argv, err = b.renderLibs(argv, opts.Flags)
	if err != nil {
		return nil, err
	}
	if out != "" {
		argv = append(argv, "-o", out)
	}
	return argv, nil
}

// hashFlags folds the merged flag set in declaration order, resolving
// step-referencing paths to their current artifact locations (legal
// because inputs complete before the dependant's hash closure runs).
func (b *Build) hashFlags(o FlagsOverlay) (Fingerprint, error) {
	f := b.mergeFlags(o)
	var h Fingerprint
	h = h.Combine(fingerprint.String(f.CompileDriver))
	for _, paths := range [][]LazyPath{f.IncludePaths, f.LibraryPaths, f.Libraries} {
		for _, lp := range paths {
			p, err := b.resolveLazyPath(lp)
			if err != nil {
				return 0, err
			}
			h = h.Combine(fingerprint.String(p))
		}
	}
	for _, lib := range f.SystemLibraries {
		h = h.Combine(fingerprint.String(lib))
	}
	for _, def := range f.Defines {
		h = h.Combine(fingerprint.String(def.Name))
		h = h.Combine(fingerprint.String(def.Value))
	}
	if f.Warnings {
		h = h.Combine(1)
	} else {
		h = h.Combine(0)
	}
	h = h.Combine(Fingerprint(f.Optimize))
	h = h.Combine(Fingerprint(f.Standard))
	h = h.Combine(fingerprint.String(f.Extra))
	return h, nil
}

func (b *Build) hashTargetFlags(o *TargetFlagsOverlay) Fingerprint {
	t := b.mergeTargetFlags(o)
	var h Fingerprint
	for _, v := range []bool{t.DebugInfo, t.ASan, t.LTO} {
		if v {
			h = h.Combine(1)
		} else {
			h = h.Combine(0)
		}
	}
	return h
}

// ObjOptions declare one object compilation.
type ObjOptions struct {
	Flags  FlagsOverlay
	Source string

	// target points at the owning executable's or library's
	// whole-target overlay; filled by AddExe/AddLib.
	target *TargetFlagsOverlay
}

// Obj is a declared object compilation and its step.
type Obj struct {
	Opts ObjOptions
	Step *Step
}

// AddObj declares a standalone object compilation.
func (b *Build) AddObj(opts ObjOptions) *Obj {
	return b.addObj(opts, false)
}

func (b *Build) addObj(opts ObjOptions, silent bool) *Obj {
	b.guardConfigure("object file", opts.Source)
	name := strings.TrimSuffix(opts.Source, filepath.Ext(opts.Source)) + ".o"
	step := b.AddStep(StepOptions{
		Name:   name,
		Desc:   "Object file for " + filepath.Base(opts.Source),
		Silent: silent,
	})
	b.BuildAllStep.DependOn(step)

	obj := &Obj{Opts: opts, Step: step}
	b.objs = append(b.objs, obj)
	source := b.abs(opts.Source)

	step.Hash = func(h Fingerprint) (Fingerprint, error) {
		h = h.Combine(fingerprint.String(source))
		fh, err := fingerprint.File(source)
		if err != nil {
			return 0, err
		}
		h = h.Combine(fh)
		oh, err := b.hashObjOptions(obj.Opts)
		if err != nil {
			return 0, err
		}
		h = h.Combine(oh)
		ch, err := b.sourceClosureHash(obj.Opts, source)
		if err != nil {
			return 0, err
		}
		return h.Combine(ch), nil
	}
	step.Action = func(out string) error {
		argv, err := b.renderCompileArgv(obj.Opts, out)
		if err != nil {
			return err
		}
		return b.runCommand(argv, "compile obj")
	}
	return obj
}

func (b *Build) hashObjOptions(opts ObjOptions) (Fingerprint, error) {
	h, err := b.hashFlags(opts.Flags)
	if err != nil {
		return 0, err
	}
	h = h.Combine(fingerprint.String(b.abs(opts.Source)))
	h = h.Combine(b.hashTargetFlags(opts.target))
	return h, nil
}

// sourceClosureHash runs the toolchain's dependency-emit mode (cached
// by scan command + source contents) and folds in every file the
// compilation reads.
func (b *Build) sourceClosureHash(opts ObjOptions, source string) (Fingerprint, error) {
	argv, err := b.renderCompileArgv(opts, depscan.OutputPlaceholder)
	if err != nil {
		return 0, err
	}
	argv = append(argv, "-M")
	return depscan.SourceClosureHash(b.store, argv, source)
}

// ExeOptions declare an executable target.
type ExeOptions struct {
	Name   string
	Desc   string
	Obj    FlagsOverlay // applied to every object of the target
	Link   FlagsOverlay // applied to the link
	Target TargetFlagsOverlay
}

// Exe is a declared executable and its link step.
type Exe struct {
	Opts     ExeOptions
	LinkStep *Step
}

// DependOn orders the whole executable, objects included, after
// another step.
func (e *Exe) DependOn(other *Step) {
	e.LinkStep.DependOn(other)
	for _, in := range e.LinkStep.inputs {
		if in.Step != nil {
			in.Step.DependOn(other)
		}
	}
}

// AddExe declares an executable built from sources. Each source
// becomes an object step feeding the link step.
func (b *Build) AddExe(opts ExeOptions, sources ...string) *Exe {
	b.guardConfigure("executable", opts.Name)
	step := b.AddStep(StepOptions{Name: opts.Name, Desc: opts.Desc})
	b.BuildAllStep.DependOn(step)

	exe := &Exe{Opts: opts, LinkStep: step}
	b.exes = append(b.exes, exe)

	for _, src := range sources {
		obj := b.addObj(ObjOptions{Flags: opts.Obj, Source: src, target: &exe.Opts.Target}, true)
		step.AddInput(LazyPath{Step: obj.Step})
	}

	step.Hash = func(h Fingerprint) (Fingerprint, error) {
		eh, err := b.hashExeOptions(exe.Opts)
		if err != nil {
			return 0, err
		}
		return h.Combine(eh), nil
	}
	step.Action = func(out string) error {
		inputs, err := b.CompletedInputs(step)
		if err != nil {
			return err
		}
		argv, err := b.renderLinkExeArgv(exe.Opts, inputs, out)
		if err != nil {
			return err
		}
		return b.runCommand(argv, "link exe")
	}
	return exe
}

func (b *Build) hashExeOptions(opts ExeOptions) (Fingerprint, error) {
	h, err := b.hashFlags(opts.Link)
	if err != nil {
		return 0, err
	}
	h = h.Combine(b.hashTargetFlags(&opts.Target))
	h = h.Combine(fingerprint.String(opts.Name))
	h = h.Combine(fingerprint.String(opts.Desc))
	return h, nil
}

func (b *Build) renderLinkExeArgv(opts ExeOptions, inputs []string, out string) ([]string, error) {
	argv, err := b.renderFlags(opts.Link)
	if err != nil {
		return nil, err
	}
	argv = b.renderTargetFlags(argv, &opts.Target)
	argv = append(argv, inputs...)
	argv, err = b.renderLibs(argv, opts.Link)
	if err != nil {
		return nil, err
	}
	if out != "" {
		argv = append(argv, "-o", out)
	}
	return argv, nil
}

// LibOptions declare a library target. The zero value of Shared
// builds a static archive.
type LibOptions struct {
	Name   string
	Desc   string
	Obj    FlagsOverlay
	Shared bool
	Target TargetFlagsOverlay
}

// Lib is a declared library and its link (or archive) step.
type Lib struct {
	Opts     LibOptions
	LinkStep *Step
}

// FileName returns the library's artifact name, libNAME.a or
// libNAME.so.
func (l *Lib) FileName() string {
	if l.Opts.Shared {
		return "lib" + l.Opts.Name + ".so"
	}
	return "lib" + l.Opts.Name + ".a"
}

// DependOn orders the whole library, objects included, after another
// step.
func (l *Lib) DependOn(other *Step) {
	l.LinkStep.DependOn(other)
	for _, in := range l.LinkStep.inputs {
		if in.Step != nil {
			in.Step.DependOn(other)
		}
	}
}

// AddLib declares a library built from sources.
func (b *Build) AddLib(opts LibOptions, sources ...string) *Lib {
	b.guardConfigure("library", opts.Name)
	step := b.AddStep(StepOptions{Name: opts.Name, Desc: opts.Desc})
	b.BuildAllStep.DependOn(step)

	lib := &Lib{Opts: opts, LinkStep: step}
	b.libs = append(b.libs, lib)
	step.opts.Name = lib.FileName()

	for _, src := range sources {
		obj := b.addObj(ObjOptions{Flags: opts.Obj, Source: src, target: &lib.Opts.Target}, true)
		step.AddInput(LazyPath{Step: obj.Step})
	}

	step.Hash = func(h Fingerprint) (Fingerprint, error) {
		lh, err := b.hashLibOptions(lib.Opts)
		if err != nil {
			return 0, err
		}
		return h.Combine(lh), nil
	}
	step.Action = func(out string) error {
		inputs, err := b.CompletedInputs(step)
		if err != nil {
			return err
		}
		argv, err := b.renderLinkLibArgv(lib.Opts, inputs, out)
		if err != nil {
			return err
		}
		return b.runCommand(argv, "link lib")
	}
	return lib
}

func (b *Build) hashLibOptions(opts LibOptions) (Fingerprint, error) {
	h, err := b.hashFlags(opts.Obj)
	if err != nil {
		return 0, err
	}
	h = h.Combine(b.hashTargetFlags(&opts.Target))
	h = h.Combine(fingerprint.String(opts.Name))
	h = h.Combine(fingerprint.String(opts.Desc))
	if opts.Shared {
		h = h.Combine(1)
	} else {
		h = h.Combine(0)
	}
	return h, nil
}

func (b *Build) renderLinkLibArgv(opts LibOptions, inputs []string, out string) ([]string, error) {
	if !opts.Shared {
		if b.StaticLinkTool == "" {
			return nil, fmt.Errorf("static linking requested for %q but no archiver found on PATH", opts.Name)
		}
		argv := []string{b.StaticLinkTool, "rsc", out}
		return append(argv, inputs...), nil
	}
	argv, err := b.renderFlags(opts.Obj)
	if err != nil {
		return nil, err
	}
	argv = b.renderTargetFlags(argv, &opts.Target)
	argv = append(argv, "-shared")
	argv = append(argv, inputs...)
	argv, err = b.renderLibs(argv, opts.Obj)
	if err != nil {
		return nil, err
	}
	if out != "" {
		argv = append(argv, "-o", out)
	}
	return argv, nil
}

// runCommand executes a rendered toolchain command with output passed
// through.
func (b *Build) runCommand(argv []string, what string) error {
	ui.Verbosef("%s cmd: %s", what, shellquote.Join(argv...))
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = b.root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
