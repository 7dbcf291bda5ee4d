package search_test

import (
	"errors"
	"reflect"
	"seqjoin/internal/apperrors"
	"seqjoin/internal/search"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestRequest_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		mutate    func(*search.Request)
		wantField string
	}{
		{"valid", func(*search.Request) {}, ""},
		{"fasta header", func(r *search.Request) { r.Sequence = ">sp|P69905\nMVLSPADK\nTNVKAAWG\n" }, ""},
		{"missing sequence", func(r *search.Request) { r.Sequence = "" }, "sequence"},
		{"header only", func(r *search.Request) { r.Sequence = ">just a header" }, "sequence"},
		{"bad alphabet", func(r *search.Request) { r.Sequence = "MKT;DROP TABLE" }, "sequence"},
		{"missing program", func(r *search.Request) { r.Program = "" }, "program"},
		{"bad program", func(r *search.Request) { r.Program = "../etc" }, "program"},
		{"missing database", func(r *search.Request) { r.Database = "" }, "database"},
		{"missing stype", func(r *search.Request) { r.SeqType = "" }, "stype"},
		{"unknown stype", func(r *search.Request) { r.SeqType = "lipid" }, "stype"},
		{"negative lower bound", func(r *search.Request) { r.ExpLowLim = ptr(-1.0) }, "explowlim"},
		{"negative upper bound", func(r *search.Request) { r.ExpUpLim = ptr(-0.5) }, "expupperlim"},
		{"inverted bounds", func(r *search.Request) { r.ExpLowLim, r.ExpUpLim = ptr(1.0), ptr(0.1) }, "explowlim"},
		{"equal bounds", func(r *search.Request) { r.ExpLowLim, r.ExpUpLim = ptr(0.1), ptr(0.1) }, ""},
		{"zero scores", func(r *search.Request) { r.Scores = ptr(0) }, "scores"},
		{"huge alignments", func(r *search.Request) { r.Alignments = ptr(100000) }, "alignments"},
		{"positive limits", func(r *search.Request) { r.Scores, r.Alignments = ptr(50), ptr(10) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}

			var appErr *apperrors.Error
			if !errors.As(err, &appErr) || !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if appErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.wantField)
			}
		})
	}
}

func TestRequest_Residues(t *testing.T) {
	t.Parallel()
	req := search.Request{Sequence: ">sp|P69905|HBA_HUMAN\nMVLS PADK\n\tTNVK\n"}
	if got := req.Residues(); got != "MVLSPADKTNVK" {
		t.Errorf("Residues() = %q", got)
	}
}

func TestRequestFromParams(t *testing.T) {
	t.Parallel()
	defaults := search.Defaults{Program: "ssearch", Database: "pdb", SeqType: "protein"}

	req, err := search.RequestFromParams(map[string]string{
		"sequence":    "MKTAYIAK",
		"explowlim":   "0",
		"expupperlim": "1e-3",
		"scores":      "25",
		"stype":       "DNA",
	}, defaults)
	if err != nil {
		t.Fatalf("RequestFromParams() error = %v", err)
	}

	want := search.Request{
		Sequence:  "MKTAYIAK",
		Program:   "ssearch",
		Database:  "pdb",
		SeqType:   "dna",
		ExpLowLim: ptr(0.0),
		ExpUpLim:  ptr(1e-3),
		Scores:    ptr(25),
	}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("RequestFromParams() = %+v, want %+v", req, want)
	}
}

func TestRequestFromParams_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key, value string
	}{
		{"explowlim", "tiny"},
		{"expupperlim", "NaN"},
		{"scores", "1.5"},
		{"alignments", "ten"},
	}

	for _, tt := range tests {
		_, err := search.RequestFromParams(map[string]string{"sequence": "MK", tt.key: tt.value}, search.Defaults{})
		var appErr *apperrors.Error
		if !errors.As(err, &appErr) || appErr.Field != tt.key {
			t.Errorf("%s=%q: expected validation error on field, got %v", tt.key, tt.value, err)
		}
	}
}

func TestRequestFromParams_MissingSequenceFailsValidation(t *testing.T) {
	t.Parallel()
	req, err := search.RequestFromParams(map[string]string{}, search.Defaults{Program: "ssearch", Database: "pdb", SeqType: "protein"})
	if err != nil {
		t.Fatalf("RequestFromParams() error = %v", err)
	}
	if !errors.Is(req.Validate(), apperrors.ErrValidation) {
		t.Error("expected missing sequence to fail validation")
	}
}

func TestRequest_ParamsRoundTrip(t *testing.T) {
	t.Parallel()
	req := validRequest()
	req.ExpUpLim = ptr(0.01)
	req.Alignments = ptr(5)

	back, err := search.RequestFromParams(req.Params(), search.Defaults{})
	if err != nil {
		t.Fatalf("RequestFromParams() error = %v", err)
	}
	if !reflect.DeepEqual(back, req) {
		t.Errorf("round trip = %+v, want %+v", back, req)
	}
}
