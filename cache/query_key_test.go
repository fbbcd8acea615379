package cache

import (
	"strings"
	"testing"
)

func TestQueryKey_EqualIgnoresParamOrder(t *testing.T) {
	a := NewQueryKey("products", map[string]any{"page": 1, "pageSize": 10})
	b := NewQueryKey("products", map[string]any{"pageSize": 10, "page": 1})

	if !a.Equal(b) {
		t.Errorf("expected %q to equal %q", a, b)
	}
	if a.StoreKey() != b.StoreKey() {
		t.Errorf("expected equal store keys, got %q and %q", a.StoreKey(), b.StoreKey())
	}
}

func TestQueryKey_EmptyAndNilParamsAreEqual(t *testing.T) {
	a := NewQueryKey("businesses", nil)
	b := NewQueryKey("businesses", map[string]any{})

	if !a.Equal(b) {
		t.Errorf("expected %q to equal %q", a, b)
	}
	if a.String() != "businesses" {
		t.Errorf("expected bare resource key, got %q", a.String())
	}
}

func TestQueryKey_DifferentParamsDiffer(t *testing.T) {
	a := NewQueryKey("products", map[string]any{"page": 1})
	b := NewQueryKey("products", map[string]any{"page": 2})
	c := NewQueryKey("collectors", map[string]any{"page": 1})

	if a.Equal(b) {
		t.Error("keys for different pages must differ")
	}
	if a.Equal(c) {
		t.Error("keys for different resources must differ")
	}
}

func TestQueryKey_CopiesParams(t *testing.T) {
	params := map[string]any{"page": 1}
	key := NewQueryKey("products", params)
	params["page"] = 99

	if key.Params["page"] != 1 {
		t.Errorf("key params changed after caller mutation: %v", key.Params)
	}
}

func TestQueryKey_HasPrefix(t *testing.T) {
	key := NewQueryKey("collectors", map[string]any{"page": 1, "pageSize": 10})

	tests := []struct {
		name   string
		prefix QueryKey
		want   bool
	}{
		{"resource only", NewQueryKey("collectors", nil), true},
		{"matching param", NewQueryKey("collectors", map[string]any{"page": 1}), true},
		{"all params", NewQueryKey("collectors", map[string]any{"pageSize": 10, "page": 1}), true},
		{"different value", NewQueryKey("collectors", map[string]any{"page": 2}), false},
		{"missing param", NewQueryKey("collectors", map[string]any{"id": "c1"}), false},
		{"other resource", NewQueryKey("collections", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := key.HasPrefix(tt.prefix); got != tt.want {
				t.Errorf("HasPrefix(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestQueryKey_StoreKeyKeepsResourcePrefix(t *testing.T) {
	key := NewQueryKey("collections", map[string]any{"page": 3})

	if !strings.HasPrefix(key.StoreKey(), ResourceStorePrefix("collections")) {
		t.Errorf("store key %q does not start with resource prefix", key.StoreKey())
	}
	// "collection" must not match the "collections" prefix and vice versa
	if strings.HasPrefix(key.StoreKey(), ResourceStorePrefix("collection")) {
		t.Errorf("store key %q matched a shorter resource prefix", key.StoreKey())
	}
}

func TestPredicates(t *testing.T) {
	products := NewQueryKey("products", map[string]any{"page": 1})
	users := NewQueryKey("users", nil)

	if !MatchResource("products", "users")(products) || !MatchResource("products", "users")(users) {
		t.Error("MatchResource should select every listed resource")
	}
	if MatchResource("businesses")(products) {
		t.Error("MatchResource should not select other resources")
	}
	if !MatchAll()(users) {
		t.Error("MatchAll should select everything")
	}
	if !MatchPrefix(NewQueryKey("products", map[string]any{"page": 1}))(products) {
		t.Error("MatchPrefix should select keys carrying the prefix params")
	}
}
