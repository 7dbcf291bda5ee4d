package search

import (
	"math"
	"seqjoin/internal/apperrors"
	"strconv"
	"strings"
)

// Query parameter keys.
const (
	ParamSequence    = "sequence"
	ParamProgram     = "program"
	ParamDatabase    = "database"
	ParamSeqType     = "stype"
	ParamExpLowLim   = "explowlim"
	ParamExpUpperLim = "expupperlim"
	ParamScores      = "scores"
	ParamAlignments  = "alignments"
)

// Defaults supplies the configured program, database and sequence type.
// The host query may override them per request.
type Defaults struct {
	Program  string
	Database string
	SeqType  string
}

// RequestFromParams builds a Request from flat host query parameters.
// Numeric values that do not parse are validation errors; a missing sequence
// is left empty for Validate to reject.
func RequestFromParams(params map[string]string, d Defaults) (Request, error) {
	req := Request{
		Sequence: params[ParamSequence],
		Program:  firstNonEmpty(params[ParamProgram], d.Program),
		Database: firstNonEmpty(params[ParamDatabase], d.Database),
		SeqType:  strings.ToLower(firstNonEmpty(params[ParamSeqType], d.SeqType)),
	}

	var err error
	if req.ExpLowLim, err = floatParam(params, ParamExpLowLim); err != nil {
		return Request{}, err
	}
	if req.ExpUpLim, err = floatParam(params, ParamExpUpperLim); err != nil {
		return Request{}, err
	}
	if req.Scores, err = intParam(params, ParamScores); err != nil {
		return Request{}, err
	}
	if req.Alignments, err = intParam(params, ParamAlignments); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Params renders the request back into flat form. Unset optionals are omitted.
func (r Request) Params() map[string]string {
	p := map[string]string{
		ParamSequence: r.Residues(),
		ParamProgram:  r.Program,
		ParamDatabase: r.Database,
		ParamSeqType:  r.SeqType,
	}
	if r.ExpLowLim != nil {
		p[ParamExpLowLim] = strconv.FormatFloat(*r.ExpLowLim, 'g', -1, 64)
	}
	if r.ExpUpLim != nil {
		p[ParamExpUpperLim] = strconv.FormatFloat(*r.ExpUpLim, 'g', -1, 64)
	}
	if r.Scores != nil {
		p[ParamScores] = strconv.Itoa(*r.Scores)
	}
	if r.Alignments != nil {
		p[ParamAlignments] = strconv.Itoa(*r.Alignments)
	}
	return p
}

func floatParam(params map[string]string, key string) (*float64, error) {
	raw := strings.TrimSpace(params[key])
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, apperrors.Validation(key, key+" must be a number")
	}
	return &v, nil
}

func intParam(params map[string]string, key string) (*int, error) {
	raw := strings.TrimSpace(params[key])
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.Validation(key, key+" must be an integer")
	}
	return &v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
