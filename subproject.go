package bpp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/google/shlex"

	"github.com/bpp-build/bpp/internal/bootstrap"
	"github.com/bpp-build/bpp/internal/ui"
)

// Subproject is another bpp project included by this one. The
// subproject's configure binary is built through the cache and runs as
// a child process; its declared steps appear here as proxy steps that
// delegate to it.
type Subproject struct {
	Name string
	Dir  string

	bin   string
	steps map[string]*Step
}

// Step returns the proxy for the subproject's step of that name, or
// nil.
func (s *Subproject) Step(name string) *Step {
	return s.steps[name]
}

// exportedStep is the wire form of a step in the --export-steps JSON.
type exportedStep struct {
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	Phony  bool   `json:"phony"`
	Silent bool   `json:"silent"`
}

// AddSubproject includes the bpp project in dir. Its build script is
// compiled (cached by source closure), interrogated for its declared
// steps, and each step becomes a proxy here named "<name>/<step>".
// Proxies are phony: the child process consults its own cache.
func (b *Build) AddSubproject(name, dir string) *Subproject {
	b.guardConfigure("subproject", name)
	absDir := b.abs(dir)
	if _, err := os.Stat(filepath.Join(absDir, "build.go")); err != nil {
		fatal(fmt.Errorf("subproject directory %s does not contain build.go", absDir))
	}

	bin, err := b.buildSubprojectBinary(name, absDir)
	if err != nil {
		fatal(err)
	}

	sub := &Subproject{Name: name, Dir: absDir, bin: bin, steps: make(map[string]*Step)}
	b.subs = append(b.subs, sub)

	exported, err := b.exportSubprojectSteps(sub)
	if err != nil {
		fatal(err)
	}
	for _, es := range exported {
		proxy := b.AddStep(StepOptions{
			Name:   name + "/" + es.Name,
			Desc:   es.Desc,
			Phony:  true,
			Silent: es.Silent,
		})
		proxy.Hash = b.InputsHasher(HasherOptions{StableID: "subproj-" + name + "-" + es.Name})
		proxy.Action = func(string) error {
			return sub.run(b, es.Name)
		}
		sub.steps[es.Name] = proxy
	}
	return sub
}

// buildSubprojectBinary compiles the subproject's configure binary
// into the cache, keyed by its source closure, so an unchanged
// subproject script compiles once.
func (b *Build) buildSubprojectBinary(name, dir string) (string, error) {
	h, err := bootstrap.SourceClosureHash(dir)
	if err != nil {
		return "", err
	}
	if b.store.Contains(h) {
		return b.store.ArtifactPath(h), nil
	}

	ui.Printf("Compiling build script for subproject %s", name)
	words, err := shlex.Split(bootstrap.CompileCommand)
	if err != nil || len(words) == 0 {
		return "", fmt.Errorf("bad compile command %q: %v", bootstrap.CompileCommand, err)
	}
	tmp := b.store.TempPath()
	words = append(words, "-o", tmp, ".")
	cmd := exec.Command(words[0], words[1:]...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compile subproject %s: %w", name, err)
	}
	if err := b.store.Promote(h, tmp); err != nil {
		return "", err
	}
	return b.store.ArtifactPath(h), nil
}

// exportSubprojectSteps runs the child with --export-steps and decodes
// its declared step list.
func (b *Build) exportSubprojectSteps(sub *Subproject) ([]exportedStep, error) {
	var out bytes.Buffer
	cmd := exec.Command(sub.bin, "--export-steps")
	cmd.Dir = sub.Dir
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	cmd.Env = sub.childEnv(b)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("export steps of subproject %s: %w", sub.Name, err)
	}
	var steps []exportedStep
	if err := json.Unmarshal(out.Bytes(), &steps); err != nil {
		return nil, fmt.Errorf("decode steps of subproject %s: %w", sub.Name, err)
	}
	return steps, nil
}

// run invokes one step of the subproject in its own directory. The
// child's cache and install prefix both nest under the parent's.
func (s *Subproject) run(b *Build, stepName string) error {
	args := []string{stepName, "-j", strconv.Itoa(b.Jobs)}
	if ui.Verbose() {
		args = append(args, "-v")
	}
	cmd := exec.Command(s.bin, args...)
	cmd.Dir = s.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = s.childEnv(b)
	return cmd.Run()
}

func (s *Subproject) childEnv(b *Build) []string {
	// The child wipes its cache's tmp/ at startup, so it must not
	// share the parent's cache root: a sibling step may be mid-action
	// writing there.
	return append(os.Environ(),
		"CACHE_PREFIX="+filepath.Join(b.cacheDir, "sub-"+s.Name),
		"PREFIX="+filepath.Join(b.out, s.Name),
	)
}
