package farm

import (
	"strconv"
	"strings"
)

// Field locates a labeled numeric value inside a log line: the text after the first
// occurrence of Label is split on Delimiter and the token at Position is parsed.
type Field struct {
	Label     string
	Delimiter string
	Position  int
}

// value extracts the field from a single line.
func (f Field) value(line string) (uint32, bool) {
	_, rest, found := strings.Cut(line, f.Label)
	if !found {
		return 0, false
	}

	tokens := strings.Split(rest, f.Delimiter)
	if f.Position < 0 || f.Position >= len(tokens) {
		return 0, false
	}

	v, err := strconv.ParseUint(tokens[f.Position], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Earliest returns the minimum value of field across lines, or 0 when none parsed.
// The first parsed value seeds the minimum.
func Earliest(lines []string, field Field) uint32 {
	var (
		earliest uint32
		seen     bool
	)
	for _, line := range lines {
		v, ok := field.value(line)
		if !ok {
			continue
		}
		if !seen || v < earliest {
			earliest = v
			seen = true
		}
	}
	return earliest
}

// Latest returns the maximum value of field across lines, or 0 when none parsed.
func Latest(lines []string, field Field) uint32 {
	var latest uint32
	for _, line := range lines {
		if v, ok := field.value(line); ok && v > latest {
			latest = v
		}
	}
	return latest
}
