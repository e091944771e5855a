package node

import "testing"

func TestIdentityKeyStableAcrossMapOrder(t *testing.T) {
	a := map[string]string{"b": "2", "a": "1", "c": "3"}
	b := map[string]string{"c": "3", "a": "1", "b": "2"}
	ka := ComputeIdentityKey("task", a)
	kb := ComputeIdentityKey("task", b)
	if ka != kb {
		t.Fatalf("identity key depends on map iteration order: %q vs %q", ka, kb)
	}
}

func TestIdentityKeyDiffersByArgs(t *testing.T) {
	k1 := ComputeIdentityKey("task", map[string]string{"x": "1"})
	k2 := ComputeIdentityKey("task", map[string]string{"x": "2"})
	if k1 == k2 {
		t.Fatalf("expected different identity keys for different args, got %q for both", k1)
	}
}

func TestCanonicalKeySuffixes(t *testing.T) {
	id := ComputeIdentityKey("task", nil)
	plain := ComputeCanonicalKey(id, "", false)
	dep := ComputeCanonicalKey(id, "", true)
	inst := ComputeCanonicalKey(id, "debug", false)
	if plain == dep || plain == inst || dep == inst {
		t.Fatalf("expected distinct canonical keys: plain=%q dep=%q inst=%q", plain, dep, inst)
	}
	if dep[len(dep)-4:] != "|dep" {
		t.Fatalf("expected |dep suffix, got %q", dep)
	}
}
