package config

import "testing"

const sample = `
db:
  default: primary
  databases: [primary, replica]
  primary:
    loosetypes: true
    encoding: UTF-8
codetables:
  database: primary
  fields:
    tableId: CodeTableId
`

func TestGetDottedKey(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := c.GetString("db.default", ""); got != "primary" {
		t.Fatalf("expected primary, got %q", got)
	}
	if got := c.GetBool("db.primary.loosetypes", false); !got {
		t.Fatalf("expected true")
	}
	if got := c.GetString("codetables.fields.tableId", ""); got != "CodeTableId" {
		t.Fatalf("expected CodeTableId, got %q", got)
	}
	if got := c.GetString("missing.key", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestGetMultiFallsBackToDefault(t *testing.T) {
	c := Empty()
	got := c.GetMulti("db.dataset", "paths", []string{"./dataset"})
	if len(got) != 1 || got[0] != "./dataset" {
		t.Fatalf("expected default, got %v", got)
	}
}

func TestGetStringSeq(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dbs := c.GetStringSeq("db.databases")
	if len(dbs) != 2 || dbs[0] != "primary" || dbs[1] != "replica" {
		t.Fatalf("unexpected databases: %v", dbs)
	}
}
