package obs

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for viewhub's OTel metrics.

const (
	// AttrViewID identifies which registered view a metric pertains to.
	AttrViewID = attribute.Key("view.id")
	// AttrNamespace records the signature's namespace.
	AttrNamespace = attribute.Key("namespace")
	// AttrResult records whether a refresh resulted in a send, a skip, or an error.
	AttrResult = attribute.Key("result")
)

// Result values recorded against AttrResult.
const (
	ResultSent      = "sent"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

// RefreshAttributes returns the attribute set for a single refresh-queue
// pop, used by the stats logger's per-view breakdown.
func RefreshAttributes(viewID, namespace, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrViewID.String(viewID),
		AttrNamespace.String(namespace),
		AttrResult.String(result),
	}
}
