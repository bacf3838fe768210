package query

import (
	"strings"
	"testing"
)

func TestBuildExpandsINPredicate(t *testing.T) {
	sql := "SELECT ProductId, Title FROM Products WHERE {{ID:ProductId}} AND {{ID:EntityType}}"
	out := Build(sql, "", []string{"ProductId"}, nil, "PROD", []int64{1, 2, 3}, nil)
	if !strings.Contains(out, "ProductId IN (1, 2, 3)") {
		t.Fatalf("expected IN predicate, got %q", out)
	}
	if !strings.Contains(out, "EntityType = 'PROD'") {
		t.Fatalf("expected EntityType predicate, got %q", out)
	}
}

func TestBuildExpandsBetweenUnderThreshold(t *testing.T) {
	sql := "SELECT 1 FROM T WHERE {{ID:ProductId#BETWEEN}}"
	out := Build(sql, "p", []string{"ProductId"}, nil, "PROD", []int64{5, 10}, nil)
	if !strings.Contains(out, "p.ProductId BETWEEN 5 AND 10") {
		t.Fatalf("expected BETWEEN predicate, got %q", out)
	}
}

func TestBuildFallsBackToInWhenSpanTooLarge(t *testing.T) {
	sql := "{{ID:ProductId#BETWEEN}}"
	out := Build(sql, "", []string{"ProductId"}, nil, "PROD", []int64{1, 5000}, nil)
	if !strings.Contains(out, "IN (1, 5000)") {
		t.Fatalf("expected fallback to IN form, got %q", out)
	}
}

func TestBuildExpandsVarMacro(t *testing.T) {
	sql := "SELECT {{VAR:col}} FROM T"
	out := Build(sql, "", nil, map[string]string{"col": "Title"}, "PROD", nil, nil)
	if out != "SELECT Title FROM T" {
		t.Fatalf("unexpected: %q", out)
	}
}

func TestBuildStopsOnUnterminatedMacro(t *testing.T) {
	sql := "SELECT {{VAR:col FROM T"
	out := Build(sql, "", nil, map[string]string{"col": "Title"}, "PROD", nil, nil)
	if out != sql {
		t.Fatalf("expected unmodified passthrough, got %q", out)
	}
}

func TestBuildLeftTrimsEveryLine(t *testing.T) {
	sql := "SELECT 1\n    FROM T\n  WHERE 1=1"
	out := Build(sql, "", nil, nil, "PROD", nil, nil)
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, " ") {
			t.Fatalf("expected left-trimmed line, got %q", line)
		}
	}
}
