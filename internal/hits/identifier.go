package hits

import (
	"regexp"
	"strings"
)

// pdbIDPattern matches a bare four-character PDB entry id.
var pdbIDPattern = regexp.MustCompile(`^[0-9][a-z0-9]{3}$`)

// CanonicalID reduces a decorated identifier as returned by the remote
// service (PDB:1ABC_A, pdb|1ABC|A, 1ABC:B, 1abc.2) to the lower-case key the
// pipeline indexes documents by.
func CanonicalID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimLeft(s, ">")

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ':'
	})
	if len(tokens) == 0 {
		return ""
	}

	for _, tok := range tokens {
		if base := cutDecoration(tok, "_.-"); pdbIDPattern.MatchString(base) {
			return base
		}
	}

	// Not a PDB entry: drop the database prefix and any version suffix.
	tok := tokens[0]
	if len(tokens) > 1 {
		tok = tokens[1]
	}
	return cutDecoration(tok, ".")
}

func cutDecoration(tok, separators string) string {
	if i := strings.IndexAny(tok, separators); i > 0 {
		return tok[:i]
	}
	return tok
}
