package cmake

import (
	"reflect"
	"testing"
)

func TestDefinesArgsSorted(t *testing.T) {
	c := New("src", "bld", "")
	c.Define("ZETA", "1")
	c.DefineBool("ALPHA", true)
	c.DefineBool("MID", false)

	got := c.definesArgs()
	want := []string{
		"-DALPHA:BOOL=ON",
		"-DMID:BOOL=OFF",
		"-DZETA:STRING=1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("definesArgs() = %v, want %v", got, want)
	}
}

func TestDefinesArgsEmpty(t *testing.T) {
	c := New("src", "bld", "")
	if got := c.definesArgs(); got != nil {
		t.Errorf("definesArgs() = %v, want nil", got)
	}
}

func TestDefineOverwrite(t *testing.T) {
	c := New("src", "bld", "")
	c.Define("KEY", "old")
	c.Define("KEY", "new")
	got := c.definesArgs()
	want := []string{"-DKEY:STRING=new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("definesArgs() = %v, want %v", got, want)
	}
}
