package wire

import (
	"testing"
)

func TestMappingPreservesOrder(t *testing.T) {
	m := NewMapping()
	m.Set("zebra", 1)
	m.Set("apple", 2)
	m.Set("mango", 3)

	js, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	want := `{"zebra":1,"apple":2,"mango":3}`
	if string(js) != want {
		t.Fatalf("order not preserved: got %s want %s", js, want)
	}

	back := NewMapping()
	if err := back.UnmarshalJSON(js); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	keys := back.Keys()
	if len(keys) != 3 || keys[0] != "zebra" || keys[1] != "apple" || keys[2] != "mango" {
		t.Fatalf("decoded order wrong: %v", keys)
	}
}

func TestMappingSetOverwriteKeepsPosition(t *testing.T) {
	m := NewMapping()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 3)

	js, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(js) != `{"a":3,"b":2}` {
		t.Fatalf("overwrite moved the key: %s", js)
	}
}

func TestMappingNested(t *testing.T) {
	inner := NewMapping()
	inner.Set("x", 1)
	m := NewMapping()
	m.Set("outer", inner)
	m.Set("list", []any{1, 2})

	js, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	back := NewMapping()
	if err := back.UnmarshalJSON(js); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	got, ok := back.Get("outer")
	if !ok {
		t.Fatalf("nested mapping lost")
	}
	nested, ok := got.(*Mapping)
	if !ok {
		t.Fatalf("nested value decoded as %T", got)
	}
	if v, ok := nested.GetUint32("x"); !ok || v != 1 {
		t.Fatalf("nested field lost: %v", nested)
	}
}

func TestMappingRejectsNonObject(t *testing.T) {
	for _, bad := range []string{`[]`, `"s"`, `1`, `null`} {
		m := NewMapping()
		if err := m.UnmarshalJSON([]byte(bad)); err == nil {
			t.Fatalf("%s decoded as a mapping", bad)
		}
	}
}
