package hits

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	summaryHeader = "The best scores are:"
	noHitsMarker  = "!! No sequences"
	blockPrefix   = ">>"
)

// overlapPattern matches the per-alignment line
// "Smith-Waterman score: 710; 100.0% identity (100.0% similar) in 120 aa overlap".
var overlapPattern = regexp.MustCompile(`([0-9.]+)% identity .*? in ([0-9]+) (?:aa|nt) overlap`)

// parseAlignment reads the summary table of a FASTA report, then fills
// identity and overlap length from the alignment blocks that follow it.
func parseAlignment(raw []byte) ([]Hit, error) {
	lines := strings.Split(string(raw), "\n")

	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), summaryHeader) {
			start = i + 1
			break
		}
		if strings.Contains(line, noHitsMarker) {
			return []Hit{}, nil
		}
	}
	if start < 0 {
		return nil, &ParseError{Kind: KindAlignment, Line: 1, Msg: "missing \"" + summaryHeader + "\" section"}
	}

	var hits []Hit
	var pending *ParseError
	index := make(map[string]int)

	i := start
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, blockPrefix) {
			break
		}

		h, ok := parseSummaryRow(line)
		if !ok {
			if pending != nil {
				return nil, pending
			}
			pending = &ParseError{Kind: KindAlignment, Line: i + 1, Msg: "malformed summary row"}
			continue
		}
		if pending != nil {
			return nil, pending
		}
		if _, seen := index[h.Accession]; !seen {
			index[h.Accession] = len(hits)
		}
		hits = append(hits, h)
	}

	if len(hits) == 0 && pending != nil {
		return nil, pending
	}

	fillAlignmentDetails(lines[i:], hits, index)
	return rank(hits), nil
}

// parseSummaryRow takes the first token as the identifier and the last as the E-value.
func parseSummaryRow(line string) (Hit, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Hit{}, false
	}
	score, err := parseScore(fields[len(fields)-1])
	if err != nil {
		return Hit{}, false
	}
	h := Hit{Accession: fields[0], ID: CanonicalID(fields[0]), Score: score}
	if h.ID == "" {
		return Hit{}, false
	}
	return h, true
}

func fillAlignmentDetails(lines []string, hits []Hit, index map[string]int) {
	current := -1
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, blockPrefix) {
			current = -1
			fields := strings.Fields(strings.TrimPrefix(line, blockPrefix))
			if len(fields) > 0 {
				if i, ok := index[fields[0]]; ok {
					current = i
				}
			}
			continue
		}
		if current < 0 || hits[current].AlignLength != 0 {
			continue
		}
		m := overlapPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		identity, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		overlap, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		hits[current].Identity = identity
		hits[current].AlignLength = overlap
	}
}
