package kernel

import "testing"

func TestFlagsSetClearHas(t *testing.T) {
	var f Flags
	if f.Has(FlagCarriesParent) {
		t.Fatal("zero value should have no flags set")
	}
	f = f.Set(FlagCarriesParent)
	if !f.Has(FlagCarriesParent) {
		t.Fatal("Set should set the flag")
	}
	f = f.Set(FlagMovesUpstream)
	if !f.Has(FlagCarriesParent) || !f.Has(FlagMovesUpstream) {
		t.Fatal("Set should not disturb other flags")
	}
	f = f.Clear(FlagCarriesParent)
	if f.Has(FlagCarriesParent) {
		t.Fatal("Clear should clear the flag")
	}
	if !f.Has(FlagMovesUpstream) {
		t.Fatal("Clear should not disturb other flags")
	}
}

func TestFlagsSetReturnsNewValue(t *testing.T) {
	f := FlagDoNotDelete
	g := f.Set(FlagMovesDownstream)
	if f.Has(FlagMovesDownstream) {
		t.Fatal("Set mutated the receiver")
	}
	if !g.Has(FlagDoNotDelete) || !g.Has(FlagMovesDownstream) {
		t.Fatal("Set result missing expected bits")
	}
}
