// Package schema defines the value types shared by the view subscription
// and refresh engine: view signatures, hints, and the opaque value/hash
// pair views hand back to the engine.
package schema

import (
	"context"
	"crypto/sha256"
	"fmt"

	json "github.com/goccy/go-json"
)

// ViewID identifies a registered View.
type ViewID string

// HintType classifies the kind of change a Hint describes. Interpreted only
// by views, never by the engine.
type HintType string

// Parameters is an ordered sequence of values identifying one concrete
// instantiation of a view. Each element must be safe to format with %#v;
// structural equality between two Parameters is defined by that formatting,
// not by Go's == operator (which would reject slices outright).
type Parameters []any

// key returns a canonical representation of the parameter sequence used for
// structural equality and hashing. Order-sensitive: [a, b] != [b, a].
func (p Parameters) key() string {
	if len(p) == 0 {
		return ""
	}
	out := make([]byte, 0, 16*len(p))
	for i, v := range p {
		if i > 0 {
			out = append(out, '|')
		}
		out = append(out, fmt.Sprintf("%#v", v)...)
	}
	return string(out)
}

// Clone returns a shallow copy of the parameter sequence.
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	out := make(Parameters, len(p))
	copy(out, p)
	return out
}

// ViewSignature uniquely identifies one concrete view instantiation:
// (namespace, view id, parameters). Namespace is generic over the caller's
// chosen tenancy/partition type, which must itself be comparable.
type ViewSignature[N comparable] struct {
	Namespace  N
	ViewID     ViewID
	Parameters Parameters
}

// Key returns the comparable, hashable identity used internally as a map
// key. Two signatures with equal Namespace, ViewID and Parameters (by
// Parameters.key) produce equal Keys.
func (s ViewSignature[N]) Key() SignatureKey[N] {
	return SignatureKey[N]{
		Namespace:  s.Namespace,
		ViewID:     s.ViewID,
		ParamsHash: s.Parameters.key(),
	}
}

// SignatureKey is the comparable map-key form of a ViewSignature.
type SignatureKey[N comparable] struct {
	Namespace  N
	ViewID     ViewID
	ParamsHash string
}

// Hint describes "something changed in region Namespace of kind Type",
// interpreted only by views via Relevant. Hints are deduplicated
// structurally on insertion into a hint set.
type Hint[N comparable] struct {
	Namespace N
	Payload   any
	Type      HintType
}

// Key returns the comparable, hashable identity used for deduplication.
func (h Hint[N]) Key() HintKey[N] {
	return HintKey[N]{
		Namespace:   h.Namespace,
		PayloadHash: fmt.Sprintf("%#v", h.Payload),
		Type:        h.Type,
	}
}

// HintKey is the comparable map-key form of a Hint.
type HintKey[N comparable] struct {
	Namespace   N
	PayloadHash string
	Type        HintType
}

// View is a named computation over a namespace and a parameter set. The
// engine never inspects the returned Value; it only hashes it to decide
// whether a refresh actually changed anything.
type View[N comparable] interface {
	// ID returns the view's registry identity. Stable for the view's
	// lifetime.
	ID() ViewID
	// Data computes the view's current value for the given namespace and
	// parameters. Called both on initial subscribe and on every refresh.
	Data(ctx context.Context, ns N, params Parameters) (any, error)
	// Relevant reports whether any of the given hints could plausibly
	// change this view's Data result for the given namespace and
	// parameters. Must be side-effect free and fast: it runs on the
	// watcher goroutine for every active subscription on every tick.
	Relevant(ns N, params Parameters, hints []Hint[N]) bool
}

// HashValue is a deterministic digest of a View's computed data, used to
// detect whether a fresh compute actually changed anything worth sending.
type HashValue [sha256.Size]byte

// Hash computes a deterministic digest of an opaque view value. Values are
// canonicalized via JSON marshaling before hashing, so two values that
// marshal identically hash identically regardless of underlying Go type
// (e.g. map[string]any vs a matching struct).
func Hash(value any) (HashValue, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return HashValue{}, fmt.Errorf("schema: hash value: %w", err)
	}
	return sha256.Sum256(encoded), nil
}
