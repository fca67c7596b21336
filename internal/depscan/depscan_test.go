package depscan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bpp-build/bpp/internal/cache"
)

func TestParseDepfile(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "single line",
			in:   "main.o: main.cpp util.h\n",
			want: []string{"main.cpp", "util.h"},
		},
		{
			name: "continuations",
			in:   "main.o: main.cpp \\\n  util.h \\\n  deep/lib.h\n",
			want: []string{"main.cpp", "util.h", "deep/lib.h"},
		},
		{
			name: "escaped space in filename",
			in:   "main.o: my\\ file.h other.h\n",
			want: []string{"my file.h", "other.h"},
		},
		{
			name: "target side discarded",
			in:   "some/dir/main.o: dep.h\n",
			want: []string{"dep.h"},
		},
		{
			name: "no trailing newline",
			in:   "a.o: b.h c.h",
			want: []string{"b.h", "c.h"},
		},
		{
			name: "empty prerequisites",
			in:   "a.o:\n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDepfile([]byte(tt.in))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDepfile(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

// fakeScanner builds a scan argv around a shell script that writes a
// depfile naming the given deps.
func fakeScanner(t *testing.T, depfileContent string) []string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "scan.sh")
	content := "#!/bin/sh\nprintf '%s' '" + depfileContent + "' > \"$1\"\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
	return []string{"/bin/sh", script, OutputPlaceholder}
}

func TestSourceClosureHash(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.cpp")
	hdr := filepath.Join(dir, "util.h")
	if err := os.WriteFile(src, []byte("int main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(hdr, []byte("#pragma once\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := cache.Open(filepath.Join(dir, ".cache"))
	if err != nil {
		t.Fatal(err)
	}
	argv := fakeScanner(t, "main.o: "+src+" "+hdr)

	h1, err := SourceClosureHash(store, argv, src)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == 0 {
		t.Fatal("closure hash should not be zero here")
	}

	// Second call reuses the cached depfile: break the scanner script
	// to prove it is not re-invoked.
	if err := os.WriteFile(argv[1], []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	h2, err := SourceClosureHash(store, argv, src)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("cached closure hash differs: %v vs %v", h1, h2)
	}
}

func TestSourceClosureHashDependsOnCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.cpp")
	if err := os.WriteFile(src, []byte("int main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := cache.Open(filepath.Join(dir, ".cache"))
	if err != nil {
		t.Fatal(err)
	}

	argv1 := fakeScanner(t, "main.o: "+src)
	h1, err := SourceClosureHash(store, argv1, src)
	if err != nil {
		t.Fatal(err)
	}

	argv2 := append(append([]string{}, argv1...), "-DEXTRA")
	h2, err := SourceClosureHash(store, argv2, src)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("different scan commands must produce different scan keys")
	}
}

func TestSourceClosureHashScanFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "main.cpp")
	if err := os.WriteFile(src, []byte("int main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := cache.Open(filepath.Join(dir, ".cache"))
	if err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "fail.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err = SourceClosureHash(store, []string{"/bin/sh", script, OutputPlaceholder}, src)
	if err == nil {
		t.Fatal("expected scan failure")
	}
	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("expected *ScanError, got %T: %v", err, err)
	}
}
