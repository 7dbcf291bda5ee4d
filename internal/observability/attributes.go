// Package observability provides metrics and tracing utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrProgram   = "program"
	attrOutcome   = "outcome"
	attrJobStatus = "job_status"
	attrHit       = "hit"
	attrResult    = "result"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// /v1/searches/abc123 -> /v1/searches/{searchId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func programAttr(program string) attribute.KeyValue {
	return attribute.String(attrProgram, program)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func jobStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrJobStatus, status)
}

func hitAttr(hit bool) attribute.KeyValue {
	return attribute.Bool(attrHit, hit)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	const prefix = "/v1/searches/"
	if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
		return "/v1/searches/{searchId}"
	}
	return path
}
