package depscan

import (
	"fmt"
	"os"
)

// ParseDepfile extracts the prerequisite paths from a Make-style
// depfile. Everything up to the first colon (the target) is discarded;
// the remainder is whitespace-split. A backslash at end of line is a
// continuation; a backslash before a space escapes a literal space
// inside a filename.
func ParseDepfile(data []byte) []string {
	var deps []string
	var file []byte

	flush := func() {
		if len(file) > 0 {
			deps = append(deps, string(file))
			file = nil
		}
	}

	i := 0
	// Discard the target side.
	for i < len(data) && data[i] != ':' {
		i++
	}
	if i < len(data) {
		i++ // the colon itself
	}

	for ; i < len(data); i++ {
		c := data[i]
		switch c {
		case ' ', '\t', '\n', '\r':
			flush()
		case '\\':
			if i+1 < len(data) {
				next := data[i+1]
				if next == '\n' || next == '\r' {
					// Line continuation, acts as a separator even
					// mid-name: compilers always put whitespace before
					// a continuation backslash, so no real filename is
					// split by this.
					flush()
					i++
					continue
				}
				if next == ' ' {
					file = append(file, ' ')
					i++
					continue
				}
			}
			file = append(file, c)
		default:
			file = append(file, c)
		}
	}
	flush()
	return deps
}

// ParseDepfilePath reads and parses the depfile at path.
func ParseDepfilePath(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("depscan: read depfile: %w", err)
	}
	return ParseDepfile(data), nil
}
