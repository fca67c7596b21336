package bpp

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/bpp-build/bpp/fingerprint"
	"github.com/bpp-build/bpp/internal/ui"
	"github.com/bpp-build/bpp/x/cmake"
)

// FetchURL declares a download step. The step's fingerprint is the
// author-supplied expected content fingerprint, so the artifact is
// immutable by contract; after downloading, the content is verified
// against it and a mismatch fails the build.
func (b *Build) FetchURL(name, url string, expected Fingerprint) *Step {
	b.guardConfigure("step", name)
	step := b.AddStep(StepOptions{Name: name, Desc: "Fetch " + url})
	step.Hash = func(Fingerprint) (Fingerprint, error) {
		return expected, nil
	}
	step.Action = func(out string) error {
		ui.Verbosef("fetching %s", url)
		if err := download(url, out); err != nil {
			return err
		}
		actual, err := fingerprint.Any(out)
		if err != nil {
			return err
		}
		if actual != expected {
			ui.Printf("Expected hash: %s", expected)
			ui.Printf("Actual   hash: %s", actual)
			ui.Printf("Downloaded path: %s", out)
			return &HashMismatchError{Step: name, URL: url, Expected: expected, Actual: actual}
		}
		return nil
	}
	return step
}

func download(url, out string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	return nil
}

// UnpackArchive declares a step that extracts the upstream step's
// tarball artifact into a directory, stripping the single leading path
// component archives conventionally carry. Gzip and xz compression are
// detected from the archive's magic bytes.
func (b *Build) UnpackArchive(name string, tarball *Step) *Step {
	b.guardConfigure("step", name)
	step := b.AddStep(StepOptions{Name: name, Desc: "Unpack tarball " + tarball.Name()})
	step.AddInput(LazyPath{Step: tarball})
	step.Hash = b.InputsHasher(HasherOptions{StableID: "unpack-tar-" + tarball.Name()})
	step.Action = func(out string) error {
		inputs, err := b.CompletedInputs(step)
		if err != nil {
			return err
		}
		return extractTar(inputs[0], out)
	}
	return step
}

func extractTar(archive, dst string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		rel, ok := stripComponent(hdr.Name)
		if !ok {
			continue
		}
		target := filepath.Join(dst, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			w, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, tr); err != nil {
				w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

// decompress sniffs the stream's magic bytes and layers the matching
// reader: gzip, xz, or none.
func decompress(f *os.File) (io.Reader, error) {
	var magic [6]byte
	n, err := io.ReadFull(f, magic[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch {
	case n >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(f)
	case n >= 6 && string(magic[:6]) == "\xfd7zXZ\x00":
		return xz.NewReader(f)
	default:
		return f, nil
	}
}

// stripComponent drops the first path element of a tar entry name.
// Entries without a remainder (the top-level directory itself) are
// skipped.
func stripComponent(name string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	_, rest, ok := strings.Cut(name, "/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// Install declares a step copying another step's artifact to dst under
// the install prefix. The step's fingerprint covers the destination
// path, and its cache artifact is a stamp naming it, so an unchanged
// install short-circuits without probing the destination.
func (b *Build) Install(step *Step, dst string) *Step {
	b.guardConfigure("install step", step.Name())
	istep := b.AddStep(StepOptions{
		Name:   "install-" + step.Name(),
		Desc:   "Installs " + step.Name(),
		Silent: true,
	})
	absDst := filepath.Join(b.out, dst)
	istep.AddInput(LazyPath{Step: step})
	b.InstallStep.AddInput(LazyPath{Step: istep})
	istep.Hash = b.InputsHasher(HasherOptions{StableID: istep.Name(), Strings: []string{absDst}})
	istep.Action = func(out string) error {
		inputs, err := b.CompletedInputs(istep)
		if err != nil {
			return err
		}
		ui.Verbosef("installing step %s output to path %s", step.Name(), absDst)
		if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
			return err
		}
		if err := copyAll(inputs[0], absDst); err != nil {
			return err
		}
		return os.WriteFile(out, []byte(absDst), 0o644)
	}
	return istep
}

// InstallExe installs the executable under bin/ in the install prefix.
func (b *Build) InstallExe(exe *Exe) *Step {
	return b.Install(exe.LinkStep, filepath.Join("bin", exe.Opts.Name))
}

// InstallLib installs the library under lib/ in the install prefix.
func (b *Build) InstallLib(lib *Lib) *Step {
	return b.Install(lib.LinkStep, filepath.Join("lib", lib.FileName()))
}

// InstallHeaderOptions configure InstallHeaders.
type InstallHeaderOptions struct {
	// Prefix is inserted under include/ in the install prefix.
	Prefix string
	// AsTree keeps each header's project-relative path; otherwise only
	// the base name is used.
	AsTree bool
}

// InstallHeaders copies headers under include/ in the install prefix.
// The copy happens immediately, during configure.
func (b *Build) InstallHeaders(headers []string, opts InstallHeaderOptions) {
	b.guardConfigure("header install", strings.Join(headers, ","))
	for _, h := range headers {
		rel := h
		if !opts.AsTree {
			rel = filepath.Base(h)
		}
		to := filepath.Join(b.out, "include", opts.Prefix, rel)
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			fatal(err)
		}
		if err := copyFile(b.abs(h), to); err != nil {
			fatal(err)
		}
	}
}

// RunCMake declares a step that configures, builds and installs a
// CMake project whose source tree is another step's artifact. The
// install tree becomes this step's artifact.
func (b *Build) RunCMake(sources *Step, target string, cmakeArgs ...string) *Step {
	b.guardConfigure("step", sources.Name()+"-cmake")
	step := b.AddStep(StepOptions{
		Name: sources.Name() + "-cmake",
		Desc: "CMake run over " + sources.Name(),
	})
	step.AddInput(LazyPath{Step: sources})
	step.Hash = b.InputsHasher(HasherOptions{
		StableID: "cmake-" + sources.Name(),
		Strings:  append([]string{target}, cmakeArgs...),
	})
	step.Action = func(out string) error {
		inputs, err := b.CompletedInputs(step)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(out, 0o755); err != nil {
			return err
		}
		c := cmake.New(inputs[0], b.store.TempPath(), out)
		c.Jobs(b.Jobs)
		if err := c.Configure(cmakeArgs...); err != nil {
			return fmt.Errorf("cmake configure %s: %w", sources.Name(), err)
		}
		if err := c.Build(target); err != nil {
			return fmt.Errorf("cmake build %s: %w", sources.Name(), err)
		}
		if err := c.Install(); err != nil {
			return fmt.Errorf("cmake install %s: %w", sources.Name(), err)
		}
		return nil
	}
	return step
}

// CMakeFromTarballURL wires fetch, unpack and cmake into one chain and
// returns the final step, whose artifact is the project's install
// tree.
func (b *Build) CMakeFromTarballURL(name, url string, expected Fingerprint, cmakeArgs ...string) *Step {
	fetch := b.FetchURL(name+"-fetch", url, expected)
	unpack := b.UnpackArchive(name+"-unpack", fetch)
	return b.RunCMake(unpack, "", cmakeArgs...)
}
