package bpp

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kballard/go-shellquote"

	"github.com/bpp-build/bpp/internal/bootstrap"
	"github.com/bpp-build/bpp/internal/ui"
)

// CompileCommandsEntry is one record of compile_commands.json.
type CompileCommandsEntry struct {
	Command   string `json:"command"`
	File      string `json:"file"`
	Directory string `json:"directory"`
}

// recordSelfCompileCommand records how the build script itself is
// compiled, so editors can index build.go.
func (b *Build) recordSelfCompileCommand() {
	self := b.argv[0]
	if abs, err := filepath.Abs(self); err == nil {
		self = abs
	}
	b.compileCommands = append(b.compileCommands, CompileCommandsEntry{
		Command:   bootstrap.CompileCommand + " -o " + shellquote.Join(self) + " .",
		File:      filepath.Join(b.root, "build.go"),
		Directory: b.root,
	})
}

// recordObjCompileCommands records one entry per distinct object
// source. When one source compiles into several objects with different
// flags, only the first is recorded.
func (b *Build) recordObjCompileCommands() {
	seen := make(map[string]bool)
	for _, obj := range b.objs {
		source := b.abs(obj.Opts.Source)
		if seen[source] {
			continue
		}
		seen[source] = true
		argv, err := b.renderCompileArgv(obj.Opts, "")
		if err != nil {
			// Flags referencing step artifacts cannot resolve before
			// execution; such entries are skipped.
			ui.Verbosef("skipping compile_commands entry for %s: %v", source, err)
			continue
		}
		b.compileCommands = append(b.compileCommands, CompileCommandsEntry{
			Command:   shellquote.Join(argv...),
			File:      source,
			Directory: b.root,
		})
	}
}

func (b *Build) dumpCompileCommandsJSON(out string) error {
	data, err := json.MarshalIndent(b.compileCommands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(data, '\n'), 0o644)
}
