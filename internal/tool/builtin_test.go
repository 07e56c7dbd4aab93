package tool

import (
	"testing"

	"vita/internal/logging"
)

func TestRegisterBuiltin(t *testing.T) {
	catalog := NewCatalog(logging.Nop())
	if err := RegisterBuiltin(catalog); err != nil {
		t.Fatalf("register builtin: %v", err)
	}
	if catalog.Len() != len(Builtin()) {
		t.Fatalf("catalog has %d tools, want %d", catalog.Len(), len(Builtin()))
	}
	// Stock tools ship without handlers; every call goes to the default
	// handler until one is bound.
	if got := catalog.HandlerCoverage(); got != 0 {
		t.Fatalf("handler coverage = %v, want 0", got)
	}
	for _, spec := range Builtin() {
		if _, _, err := catalog.Resolve(spec.Name); err != nil {
			t.Fatalf("resolve %s: %v", spec.Name, err)
		}
	}
}
