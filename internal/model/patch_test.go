package model

import "testing"

func TestApplyPatchMaterializesNestedPath(t *testing.T) {
	dst := map[string]interface{}{}
	err := ApplyPatch(dst, Change{
		Kind:  Property,
		Path:  Path{Key("move"), Array("axes", 0, 1), Key("position")},
		Value: 12.5,
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}

	move, _ := dst["move"].(map[string]interface{})
	axes, _ := move["axes"].([]interface{})
	if len(axes) != 1 {
		t.Fatalf("axes len = %d, want 1", len(axes))
	}
	axis0, _ := axes[0].(map[string]interface{})
	if axis0["position"] != 12.5 {
		t.Fatalf("axis0 = %v, want position=12.5", axis0)
	}
}

func TestApplyPatchShrinksListByTruncation(t *testing.T) {
	dst := map[string]interface{}{
		"tools": []interface{}{"a", "b", "c"},
	}
	err := ApplyPatch(dst, Change{
		Kind: ObjectCollection,
		Path: Path{Array("tools", 0, 1)},
		Value: map[string]interface{}{"name": "extruder0"},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	tools, _ := dst["tools"].([]interface{})
	if len(tools) != 1 {
		t.Fatalf("tools len = %d, want 1 (truncated)", len(tools))
	}
}

func TestApplyPatchGrowsListByAppendingNulls(t *testing.T) {
	dst := map[string]interface{}{
		"tools": []interface{}{"a"},
	}
	err := ApplyPatch(dst, Change{
		Kind:  ObjectCollection,
		Path:  Path{Array("tools", 2, 3)},
		Value: "c",
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	tools, _ := dst["tools"].([]interface{})
	if len(tools) != 3 {
		t.Fatalf("tools len = %d, want 3", len(tools))
	}
	if tools[1] != nil {
		t.Fatalf("tools[1] = %v, want nil", tools[1])
	}
	if tools[2] != "c" {
		t.Fatalf("tools[2] = %v, want c", tools[2])
	}
}

func TestApplyPatchGrowingCollectionAppendsItemsOnly(t *testing.T) {
	dst := map[string]interface{}{
		"messages": []interface{}{"booted"},
	}
	err := ApplyPatch(dst, Change{
		Kind:  GrowingCollection,
		Path:  Path{Key("messages")},
		Value: []interface{}{"connected", "homed"},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	msgs, _ := dst["messages"].([]interface{})
	want := []interface{}{"booted", "connected", "homed"}
	if len(msgs) != len(want) {
		t.Fatalf("got %v, want %v", msgs, want)
	}
}

func TestApplyPatchNilClearsGrowingCollection(t *testing.T) {
	dst := map[string]interface{}{
		"messages": []interface{}{"booted"},
	}
	err := ApplyPatch(dst, Change{
		Kind:  GrowingCollection,
		Path:  Path{Key("messages")},
		Value: nil,
	})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if dst["messages"] != nil {
		t.Fatalf("messages = %v, want nil", dst["messages"])
	}
}
