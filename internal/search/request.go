package search

import (
	"fmt"
	"regexp"
	"seqjoin/internal/apperrors"
	"strings"
)

// Validation limits
const (
	maxSequenceLength = 100000
	maxResultLimit    = 1000
)

var (
	sequencePattern = regexp.MustCompile(`^[A-Za-z*-]+$`)
	namePattern     = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// seqTypes are the sequence-type tags the remote service accepts.
var seqTypes = map[string]bool{
	"protein": true,
	"dna":     true,
	"rna":     true,
}

// Residues returns the sequence with any FASTA header line and all
// whitespace removed.
func (r Request) Residues() string {
	seq := strings.TrimSpace(r.Sequence)
	if strings.HasPrefix(seq, ">") {
		if _, body, ok := strings.Cut(seq, "\n"); ok {
			seq = body
		} else {
			seq = ""
		}
	}
	return strings.Join(strings.Fields(seq), "")
}

// Validate checks required fields and optional bounds. Does not modify the request.
func (r Request) Validate() error {
	residues := r.Residues()
	if residues == "" {
		return apperrors.Validation("sequence", "sequence is required")
	}
	if len(residues) > maxSequenceLength {
		return apperrors.Validation("sequence", fmt.Sprintf("sequence exceeds %d residues", maxSequenceLength))
	}
	if !sequencePattern.MatchString(residues) {
		return apperrors.Validation("sequence", "sequence contains characters outside the residue alphabet")
	}

	if r.Program == "" {
		return apperrors.Validation("program", "program is required")
	}
	if !namePattern.MatchString(r.Program) {
		return apperrors.Validation("program", "program must be alphanumeric")
	}
	if r.Database == "" {
		return apperrors.Validation("database", "database is required")
	}
	if !namePattern.MatchString(r.Database) {
		return apperrors.Validation("database", "database must be alphanumeric")
	}
	if r.SeqType == "" {
		return apperrors.Validation("stype", "stype is required")
	}
	if !seqTypes[strings.ToLower(r.SeqType)] {
		return apperrors.Validation("stype", "stype must be one of protein, dna, rna")
	}

	if r.ExpLowLim != nil && *r.ExpLowLim < 0 {
		return apperrors.Validation("explowlim", "explowlim must be non-negative")
	}
	if r.ExpUpLim != nil && *r.ExpUpLim < 0 {
		return apperrors.Validation("expupperlim", "expupperlim must be non-negative")
	}
	if r.ExpLowLim != nil && r.ExpUpLim != nil && *r.ExpLowLim > *r.ExpUpLim {
		return apperrors.Validation("explowlim", "explowlim must not exceed expupperlim")
	}

	if err := validateLimit("scores", r.Scores); err != nil {
		return err
	}
	return validateLimit("alignments", r.Alignments)
}

func validateLimit(field string, v *int) error {
	if v == nil {
		return nil
	}
	if *v <= 0 {
		return apperrors.Validation(field, field+" must be positive")
	}
	if *v > maxResultLimit {
		return apperrors.Validation(field, fmt.Sprintf("%s must not exceed %d", field, maxResultLimit))
	}
	return nil
}
