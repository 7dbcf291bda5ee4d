// Package hits parses sequence-search result payloads into ranked hits and
// folds them into the identifier filter consumed by the query pipeline.
package hits

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind names one output format the remote service can produce for a job.
type Kind string

// Result kinds
const (
	KindTabular   Kind = "tab" // one row per hit: id, score, aux columns
	KindAlignment Kind = "out" // FASTA alignment report
)

// ErrEmptyPayload is returned when a finished job produced zero bytes.
var ErrEmptyPayload = errors.New("empty payload")

// Hit is one matched entry of a search result.
// Identity and AlignLength are zero when the result kind does not carry them.
type Hit struct {
	ID          string  `json:"id"`
	Accession   string  `json:"accession"`
	Score       float64 `json:"score"`
	Rank        int     `json:"rank"`
	Identity    float64 `json:"identity,omitempty"`
	AlignLength int     `json:"alignLength,omitempty"`
}

// ParseError reports the line that could not be parsed.
type ParseError struct {
	Kind Kind
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Kind, e.Line, e.Msg)
}

// Parse converts a raw payload of the given kind into hits in the remote
// service's ranking order. It is deterministic and keeps no state.
func Parse(raw []byte, kind Kind) ([]Hit, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}

	switch kind {
	case KindTabular:
		return parseTabular(raw)
	case KindAlignment:
		return parseAlignment(raw)
	default:
		return nil, fmt.Errorf("unsupported result kind %q", kind)
	}
}

// Supported reports whether Parse understands the kind.
func Supported(kind Kind) bool {
	return kind == KindTabular || kind == KindAlignment
}

// rank numbers hits by their position in the payload.
func rank(hits []Hit) []Hit {
	if hits == nil {
		return []Hit{}
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}
