package coherence

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gaborage/go-coherence/coherence"

// Unit of work outcomes recorded on its span.
const (
	outcomeCommitted    = "committed"
	outcomeRolledBack   = "rolled_back"
	outcomeCommitFailed = "commit_failed"
	outcomePanicked     = "panicked"
)

func endSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("coherence.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
