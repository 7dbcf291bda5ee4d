package hits

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// m8Columns is the column count of the BLAST/FASTA "-m 8" tabular layout:
// query, subject, %id, length, mismatches, gaps, qstart, qend, sstart, send, evalue, bits.
const m8Columns = 12

// parseTabular reads one hit per row. Only the final malformed row is
// forgiven, as a truncated download; any earlier one fails the parse.
func parseTabular(raw []byte) ([]Hit, error) {
	var hits []Hit
	var pending *ParseError

	for i, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		h, err := parseRow(strings.Fields(line))
		if err != nil {
			if pending != nil {
				return nil, pending
			}
			pending = &ParseError{Kind: KindTabular, Line: i + 1, Msg: err.Error()}
			continue
		}
		if pending != nil {
			return nil, pending
		}
		hits = append(hits, h)
	}

	if len(hits) == 0 && pending != nil {
		return nil, pending
	}
	return rank(hits), nil
}

func parseRow(fields []string) (Hit, error) {
	var (
		accession       string
		score, identity string
		length          string
	)

	switch {
	case len(fields) >= m8Columns:
		accession, identity, length, score = fields[1], fields[2], fields[3], fields[10]
	case len(fields) >= 2:
		accession, score = fields[0], fields[1]
		if len(fields) > 2 {
			identity = fields[2]
		}
		if len(fields) > 3 {
			length = fields[3]
		}
	default:
		return Hit{}, fmt.Errorf("expected at least 2 columns, got %d", len(fields))
	}

	h := Hit{Accession: accession, ID: CanonicalID(accession)}
	if h.ID == "" {
		return Hit{}, fmt.Errorf("empty identifier %q", accession)
	}

	var err error
	if h.Score, err = parseScore(score); err != nil {
		return Hit{}, err
	}
	if identity != "" {
		if h.Identity, err = parseScore(strings.TrimSuffix(identity, "%")); err != nil {
			return Hit{}, fmt.Errorf("identity: %w", err)
		}
	}
	if length != "" {
		if h.AlignLength, err = strconv.Atoi(length); err != nil || h.AlignLength < 0 {
			return Hit{}, fmt.Errorf("invalid alignment length %q", length)
		}
	}
	return h, nil
}

// parseScore accepts finite, non-negative numbers, including FASTA's "1.2e-47".
func parseScore(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("invalid score %q", s)
	}
	return v, nil
}
