package ipc

import (
	"encoding/json"
	"testing"

	"github.com/rrf-io/sbcd/internal/model"
)

func parseFilter(t *testing.T, jsonSrc string) Filter {
	t.Helper()
	var f Filter
	if err := json.Unmarshal([]byte(jsonSrc), &f); err != nil {
		t.Fatalf("unmarshal filter: %v", err)
	}
	return f
}

func TestMatchesExactKeyPrefix(t *testing.T) {
	f := parseFilter(t, `["state","status"]`)
	path := model.Path{model.Key("state"), model.Key("status")}
	if !Matches(f, path) {
		t.Fatal("expected match")
	}
}

func TestMatchesRejectsDifferentKey(t *testing.T) {
	f := parseFilter(t, `["state","status"]`)
	path := model.Path{model.Key("move"), model.Key("speed")}
	if Matches(f, path) {
		t.Fatal("expected no match")
	}
}

func TestMatchesWildcardSuffix(t *testing.T) {
	f := parseFilter(t, `["state","**"]`)
	path := model.Path{model.Key("state"), model.Key("status"), model.Key("deep")}
	if !Matches(f, path) {
		t.Fatal("expected wildcard to match any suffix")
	}
}

func TestMatchesArrayNodeIgnoresIndexUnlessPinned(t *testing.T) {
	f := parseFilter(t, `[{"Name":"tools"}]`)
	if !Matches(f, model.Path{model.Array("tools", 3, 4)}) {
		t.Fatal("expected unpinned array filter to match any index")
	}

	pinned := parseFilter(t, `[{"Name":"tools","Index":1}]`)
	if Matches(pinned, model.Path{model.Array("tools", 3, 4)}) {
		t.Fatal("expected pinned array filter to reject a different index")
	}
	if !Matches(pinned, model.Path{model.Array("tools", 1, 4)}) {
		t.Fatal("expected pinned array filter to match its own index")
	}
}

func TestMatchesEmptyPathIsRootReplacement(t *testing.T) {
	f := parseFilter(t, `["state","status"]`)
	if !Matches(f, model.Path{}) {
		t.Fatal("expected an empty change path to match every filter")
	}
}

func TestMatchesAnyWithNoFiltersMatchesEverything(t *testing.T) {
	if !MatchesAny(nil, model.Path{model.Key("anything")}) {
		t.Fatal("expected empty filter set to match everything")
	}
}
