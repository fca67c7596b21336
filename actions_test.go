package bpp

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpp-build/bpp/fingerprint"
)

func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractTarStripsLeadingComponent(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	data := makeTarGz(t, map[string]string{
		"pkg-1.0/README":     "hello",
		"pkg-1.0/src/main.c": "int main;",
	})
	require.NoError(t, os.WriteFile(archive, data, 0o644))

	dst := filepath.Join(dir, "out")
	require.NoError(t, extractTar(archive, dst))

	got, err := os.ReadFile(filepath.Join(dst, "README"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	got, err = os.ReadFile(filepath.Join(dst, "src", "main.c"))
	require.NoError(t, err)
	require.Equal(t, "int main;", string(got))
}

func TestExtractTarRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	data := makeTarGz(t, map[string]string{
		"pkg/../../escape": "nope",
	})
	require.NoError(t, os.WriteFile(archive, data, 0o644))
	require.Error(t, extractTar(archive, filepath.Join(dir, "out")))
}

func TestStripComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"pkg-1.0/README", "README", true},
		{"pkg-1.0/src/a.c", "src/a.c", true},
		{"pkg-1.0/", "", false},
		{"toplevel", "", false},
		{"./pkg/x", "x", true},
	}
	for _, tt := range tests {
		got, ok := stripComponent(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("stripComponent(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFetchURLVerifiesHash(t *testing.T) {
	payload := []byte("release tarball contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	b := testBuild(t)
	expected := fingerprint.Bytes(payload)
	fetch := b.FetchURL("dep", srv.URL, expected)

	require.NoError(t, runSteps(t, b, "dep"))
	require.True(t, b.store.Contains(expected))
	got, err := os.ReadFile(b.store.ArtifactPath(fetch.Fingerprint()))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFetchURLHashMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	b := testBuild(t)
	expected := Fingerprint(12345)
	b.FetchURL("dep", srv.URL, expected)

	err := runSteps(t, b, "dep")
	require.Error(t, err)
	var mismatch *HashMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, expected, mismatch.Expected)
	require.NotEqual(t, expected, mismatch.Actual)
	// Both fingerprints appear in decimal in the diagnostic.
	require.Contains(t, mismatch.Error(), "12345")
	require.Contains(t, mismatch.Error(), mismatch.Actual.String())
	// No artifact was promoted for the expected fingerprint.
	require.False(t, b.store.Contains(expected))
}

func TestInstallCopiesAndCaches(t *testing.T) {
	root := t.TempDir()
	var produced, installed atomic.Int32

	configureOnce := func() (*Build, *Step) {
		b, err := newBuild([]string{"bin"}, root)
		require.NoError(t, err)
		require.NoError(t, b.preConfigure())
		b.Jobs = 2

		gen := b.AddStep(StepOptions{Name: "gen", Silent: true})
		gen.Hash = b.InputsHasher(HasherOptions{StableID: "gen-v1"})
		gen.Action = func(out string) error {
			produced.Add(1)
			return os.WriteFile(out, []byte("binary"), 0o755)
		}
		istep := b.Install(gen, filepath.Join("bin", "gen"))
		inner := istep.Action
		istep.Action = func(out string) error {
			installed.Add(1)
			return inner(out)
		}
		return b, istep
	}

	b1, _ := configureOnce()
	require.NoError(t, runSteps(t, b1, "install"))
	data, err := os.ReadFile(filepath.Join(b1.out, "bin", "gen"))
	require.NoError(t, err)
	require.Equal(t, "binary", string(data))
	require.Equal(t, int32(1), produced.Load())
	require.Equal(t, int32(1), installed.Load())

	// Unchanged input and destination: the stamped artifact short-
	// circuits the copy on the next invocation.
	b2, _ := configureOnce()
	require.NoError(t, runSteps(t, b2, "install"))
	require.Equal(t, int32(1), produced.Load())
	require.Equal(t, int32(1), installed.Load())
}

func TestInstallExePath(t *testing.T) {
	b := testBuild(t)
	exe := b.AddExe(ExeOptions{Name: "tool"}, "tool.cpp")
	istep := b.InstallExe(exe)
	require.Equal(t, "install-tool", istep.Name())
	require.Contains(t, b.InstallStep.inputs, LazyPath{Step: istep})
}

func TestAddFileStep(t *testing.T) {
	b := testBuild(t)
	src := filepath.Join(b.root, "asset.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	lp := b.AddFile("asset.txt")
	require.NotNil(t, lp.Step)
	require.NoError(t, runSteps(t, b, lp.Step.Name()))

	data, err := os.ReadFile(b.store.ArtifactPath(lp.Step.Fingerprint()))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	// The step fingerprint is the file's content hash.
	want, err := fingerprint.File(src)
	require.NoError(t, err)
	require.Equal(t, want, lp.Step.Fingerprint())
}

func TestUnpackArchiveStep(t *testing.T) {
	b := testBuild(t)

	data := makeTarGz(t, map[string]string{"proj/hello.txt": "hi"})
	tarball := b.AddStep(StepOptions{Name: "tarball", Silent: true})
	tarball.Hash = b.InputsHasher(HasherOptions{StableID: "tarball-v1"})
	tarball.Action = func(out string) error {
		return os.WriteFile(out, data, 0o644)
	}

	unpack := b.UnpackArchive("sources", tarball)
	require.NoError(t, runSteps(t, b, "sources"))

	got, err := os.ReadFile(filepath.Join(b.store.ArtifactPath(unpack.Fingerprint()), "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "hi", string(got))
}
