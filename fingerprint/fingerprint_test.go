package fingerprint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestCombineOrdered(t *testing.T) {
	a, b := Fingerprint(1), Fingerprint(2)
	if a.Combine(b) == b.Combine(a) {
		t.Error("ordered combine must not be commutative")
	}
	if a.Combine(b) != a.Combine(b) {
		t.Error("ordered combine must be deterministic")
	}
	// Known constants: combine(0, 0) is the FNV offset multiplied by
	// the prime twice.
	want := Fingerprint(0xCBF29CE484222325)
	want = Fingerprint(uint64(want) * 0x100000001B3)
	want = Fingerprint(uint64(want) * 0x100000001B3)
	if got := Fingerprint(0).Combine(0); got != want {
		t.Errorf("combine(0,0) = %v, want %v", got, want)
	}
}

func TestCombineUnordered(t *testing.T) {
	a, b, c := Fingerprint(3), Fingerprint(5), Fingerprint(9)
	if a.CombineUnordered(b) != b.CombineUnordered(a) {
		t.Error("unordered combine must be commutative")
	}
	if a.CombineUnordered(b).CombineUnordered(c) != a.CombineUnordered(b.CombineUnordered(c)) {
		t.Error("unordered combine must be associative")
	}
	// Wraparound is fine.
	if got := Fingerprint(^uint64(0)).CombineUnordered(2); got != 1 {
		t.Errorf("wraparound = %v, want 1", got)
	}
}

func TestStringHash(t *testing.T) {
	if String("") != 0 {
		t.Error("empty string must hash to zero")
	}
	if String("abc") == String("acb") {
		t.Error("string hash must be order sensitive")
	}
	if String("a") != Fingerprint(0).Combine('a') {
		t.Error("single byte fold mismatch")
	}
}

func TestFileHash(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := File(empty)
	if err != nil {
		t.Fatal(err)
	}
	if h != 0 {
		t.Errorf("empty file hash = %v, want 0", h)
	}

	// 8-byte and 9-byte contents exercise the lane and trailing paths.
	p1 := filepath.Join(dir, "lane")
	if err := os.WriteFile(p1, []byte("12345678"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := File(p1)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != Bytes([]byte("12345678")) {
		t.Error("file hash must agree with Bytes")
	}

	p2 := filepath.Join(dir, "tail")
	if err := os.WriteFile(p2, []byte("123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	h2, err := File(p2)
	if err != nil {
		t.Fatal(err)
	}
	if h2 != Bytes([]byte("123456789")) {
		t.Error("trailing bytes must fold individually")
	}
	if h1 == h2 {
		t.Error("distinct contents must not collide here")
	}
}

func TestFileHashMemoized(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	if err := os.WriteFile(p, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := File(p)
	if err != nil {
		t.Fatal(err)
	}
	// A rewrite within one process is not observed: the memo table is
	// per invocation by design.
	if err := os.WriteFile(p, []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}
	h2, err := File(p)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("file hash must be memoized per process")
	}
}

func TestReaderChunking(t *testing.T) {
	// Content larger than one chunk, not lane aligned.
	content := bytes.Repeat([]byte("abcdefghij"), 4000) // 40000 bytes
	content = append(content, 'x', 'y', 'z')
	got, err := Reader(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if got != Bytes(content) {
		t.Error("chunked read must agree with single-pass Bytes")
	}
}

func TestDirHash(t *testing.T) {
	write := func(dir, rel, content string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	d1 := t.TempDir()
	write(d1, "a.txt", "one")
	write(d1, "sub/b.txt", "two")

	d2 := t.TempDir()
	write(d2, "sub/b.txt", "two")
	write(d2, "a.txt", "one")

	h1, err := Dir(d1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Dir(d2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("directory hash must not depend on creation order or location")
	}

	d3 := t.TempDir()
	write(d3, "a.txt", "one")
	write(d3, "sub/c.txt", "two") // same content, different name
	h3, err := Dir(d3)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("relative path must participate in the directory hash")
	}
}

func TestAny(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "f")
	if err := os.WriteFile(p, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	hf, err := Any(p)
	if err != nil {
		t.Fatal(err)
	}
	want, err := File(p)
	if err != nil {
		t.Fatal(err)
	}
	if hf != want {
		t.Error("Any on a file must match File")
	}
	hd, err := Any(dir)
	if err != nil {
		t.Fatal(err)
	}
	wantDir, err := Dir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if hd != wantDir {
		t.Error("Any on a directory must match Dir")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, v := range []Fingerprint{0, 1, Fingerprint(^uint64(0))} {
		got, err := Parse(v.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("round trip %v = %v", v, got)
		}
	}
}
