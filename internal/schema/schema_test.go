package schema

import "testing"

func TestParametersKeyIsOrderSensitive(t *testing.T) {
	a := Parameters{"x", 1}
	b := Parameters{1, "x"}
	if a.key() == b.key() {
		t.Fatalf("expected order-sensitive keys to differ")
	}
}

func TestParametersKeyStructuralEquality(t *testing.T) {
	a := Parameters{"acct-1", 42}
	b := Parameters{"acct-1", 42}
	if a.key() != b.key() {
		t.Fatalf("expected equal parameter sequences to produce equal keys")
	}
}

func TestViewSignatureKeyDistinguishesNamespace(t *testing.T) {
	sigA := ViewSignature[string]{Namespace: "tenant-a", ViewID: "balances", Parameters: Parameters{"x"}}
	sigB := ViewSignature[string]{Namespace: "tenant-b", ViewID: "balances", Parameters: Parameters{"x"}}
	if sigA.Key() == sigB.Key() {
		t.Fatalf("expected distinct namespaces to produce distinct keys")
	}
}

func TestViewSignatureKeyIgnoresIdentityOfEqualValues(t *testing.T) {
	sigA := ViewSignature[string]{Namespace: "tenant-a", ViewID: "balances", Parameters: Parameters{"x", 1}}
	sigB := ViewSignature[string]{Namespace: "tenant-a", ViewID: "balances", Parameters: Parameters{"x", 1}}
	if sigA.Key() != sigB.Key() {
		t.Fatalf("expected structurally equal signatures to produce equal keys")
	}
}

func TestHintKeyDeduplicatesStructurallyEqualHints(t *testing.T) {
	h1 := Hint[string]{Namespace: "tenant-a", Payload: "acct-1", Type: "balance_changed"}
	h2 := Hint[string]{Namespace: "tenant-a", Payload: "acct-1", Type: "balance_changed"}
	set := map[HintKey[string]]struct{}{}
	set[h1.Key()] = struct{}{}
	set[h2.Key()] = struct{}{}
	if len(set) != 1 {
		t.Fatalf("expected structurally equal hints to collapse to one key, got %d", len(set))
	}
}

func TestHintKeyDistinguishesType(t *testing.T) {
	h1 := Hint[string]{Namespace: "tenant-a", Payload: "acct-1", Type: "balance_changed"}
	h2 := Hint[string]{Namespace: "tenant-a", Payload: "acct-1", Type: "limit_changed"}
	if h1.Key() == h2.Key() {
		t.Fatalf("expected different hint types to produce different keys")
	}
}

func TestHashIsDeterministicAndOrderInsensitiveForMapKeys(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": 2}
	v2 := map[string]any{"b": 2, "a": 1}
	h1, err := Hash(v1)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(v2)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected JSON-canonicalized maps to hash identically regardless of insertion order")
	}
}

func TestHashDistinguishesDifferentValues(t *testing.T) {
	h1, err := Hash(map[string]any{"balance": 100})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(map[string]any{"balance": 101})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected different values to hash differently")
	}
}
