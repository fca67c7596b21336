package bpp

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bpp-build/bpp/internal/ui"
)

// Option is a declared build option: a -D key with a description for
// the help text.
type Option struct {
	Key         string
	Description string
}

// OptionValue is the parsed command-line value of a declared option.
// Typed views are derived on read; a failed conversion is fatal
// (OptionParseError).
type OptionValue struct {
	key string
	raw string
	set bool
}

// IsSet reports whether the option appeared on the command line.
func (o *OptionValue) IsSet() bool { return o.set }

// String returns the raw value, or def when unset. A bare -Dkey
// carries the value "true".
func (o *OptionValue) String(def string) string {
	if !o.set {
		return def
	}
	return o.raw
}

// Bool converts the value, accepting 1/true/yes and 0/false/no.
func (o *OptionValue) Bool(def bool) bool {
	if !o.set {
		return def
	}
	switch o.raw {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	fatal(&OptionParseError{Key: o.key, Value: o.raw, Want: "boolean"})
	return false
}

// Int converts the value to an integer.
func (o *OptionValue) Int(def int) int {
	if !o.set {
		return def
	}
	v, err := strconv.Atoi(o.raw)
	if err != nil {
		fatal(&OptionParseError{Key: o.key, Value: o.raw, Want: "integer"})
	}
	return v
}

// Option declares a build option and returns its command-line value.
// Newly declared keys are appended to the persistent catalogue so help
// can list them without re-running configure.
func (b *Build) Option(key, description string) *OptionValue {
	b.guardConfigure("option", key)
	if description == "" {
		description = "No description"
	}
	if _, known := b.options[key]; !known {
		ui.Warnf("bpp: New option detected -D%s :: %q", key, description)
		if err := b.appendOptionCatalogue(key, description); err != nil {
			fatal(err)
		}
		b.options[key] = Option{Key: key, Description: description}
	}
	return b.optionValue(key)
}

// optionValue scans the raw -D tokens for key. The last occurrence
// wins; a bare key reads as "true".
func (b *Build) optionValue(key string) *OptionValue {
	v := &OptionValue{key: key}
	for _, tok := range b.defines {
		if tok == key {
			v.raw, v.set = "true", true
			continue
		}
		if rest, ok := strings.CutPrefix(tok, key+"="); ok {
			v.raw, v.set = rest, true
		}
	}
	return v
}

// declareBuiltinOptions registers the engine's own options and applies
// them to the global flag state.
func (b *Build) declareBuiltinOptions() {
	builtins := []Option{
		{"compiler", "Set C++ compiler to use by default"},
		{"optimize", "Set optimization level (O* or Fast) (default: O1)"},
		{"cxx-standard", "Set C++ standard (c++XX) (default: c++17)"},
		{"asan", "Enable AddressSanitizer (default: disabled)"},
		{"debug-info", "Generate debug info (default: enabled)"},
		{"lto", "Enable Link Time Optimization (default: disabled)"},
	}
	for _, opt := range builtins {
		if _, ok := b.options[opt.Key]; !ok {
			b.options[opt.Key] = opt
		}
	}

	switch b.optionValue("optimize").String("default") {
	case "O0":
		b.GlobalFlags.Optimize = OptimizeO0
	case "O1":
		b.GlobalFlags.Optimize = OptimizeO1
	case "O2":
		b.GlobalFlags.Optimize = OptimizeO2
	case "O3":
		b.GlobalFlags.Optimize = OptimizeO3
	case "Fast":
		b.GlobalFlags.Optimize = OptimizeFast
	}

	switch b.optionValue("cxx-standard").String("default") {
	case "c++11":
		b.GlobalFlags.Standard = StandardCXX11
	case "c++14":
		b.GlobalFlags.Standard = StandardCXX14
	case "c++17":
		b.GlobalFlags.Standard = StandardCXX17
	case "c++20":
		b.GlobalFlags.Standard = StandardCXX20
	case "c++23":
		b.GlobalFlags.Standard = StandardCXX23
	}

	b.GlobalTargetFlags.ASan = b.optionValue("asan").Bool(false)
	b.GlobalTargetFlags.DebugInfo = b.optionValue("debug-info").Bool(true)
	b.GlobalTargetFlags.LTO = b.optionValue("lto").Bool(false)

	if compiler := b.optionValue("compiler"); compiler.IsSet() {
		b.GlobalFlags.CompileDriver = compiler.String("")
	}
}

// loadOptionCatalogue reads the "key :: description" lines declared on
// previous runs.
func (b *Build) loadOptionCatalogue() error {
	data, err := os.ReadFile(b.store.OptionsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		key, description, _ := strings.Cut(line, "::")
		key = strings.TrimSpace(key)
		description = strings.TrimSpace(description)
		if key != "" {
			b.options[key] = Option{Key: key, Description: description}
		}
	}
	return nil
}

func (b *Build) appendOptionCatalogue(key, description string) error {
	f, err := os.OpenFile(b.store.OptionsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s :: %s\n", key, description)
	return err
}
