package fetch

import (
	"context"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/codetable"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/config"
	dsdb "github.com/MGDevelopment/dataset-engine/pkg/dataset/db"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/hook"
	_ "github.com/MGDevelopment/dataset-engine/pkg/dataset/hook/builtin"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/recipe"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/solver"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

const fetchTestConfig = `
db:
  default: main
  main:
    driver: sqlite
    database: ":memory:"
    loosetypes: true
codetables:
  database: main
`

// newTestHarness wires a Broker, CodeTable cache and Solver the same way
// a real process does, then points the recipe repository at this
// package's testdata tree, which holds one recipe file per seed
// scenario exercised below. It returns the Orchestrator plus the
// broker's "main" connection, for seeding fixtures through the same
// pool the orchestrator will query.
func newTestHarness(t *testing.T) (*Orchestrator, *dsdb.Conn) {
	t.Helper()
	cfg, err := config.Parse([]byte(fetchTestConfig))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	broker := dsdb.New(cfg, nil)
	t.Cleanup(func() { broker.Close() })
	ct := codetable.New(broker, cfg, nil)
	slv := solver.New(broker, ct, cfg, nil)

	t.Setenv("ECOMMERCE_DATASET_DIR", "testdata")
	repoFor := func(application string) (*recipe.Repository, error) {
		return recipe.NewRepository(application, cfg, "")
	}

	o := New(slv, repoFor, nil)

	conn, err := broker.Get(context.Background(), "main")
	if err != nil {
		t.Fatalf("get conn: %v", err)
	}
	return o, conn
}

func exec(t *testing.T, conn *dsdb.Conn, stmt string) {
	t.Helper()
	if _, err := conn.DB.Exec(stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func TestFetchAugmentGroupKeyScenario(t *testing.T) {
	o, conn := newTestHarness(t)

	exec(t, conn, `CREATE TABLE Products (ProductId INTEGER, Title TEXT, Status TEXT)`)
	exec(t, conn, `INSERT INTO Products VALUES (1,'Book One','Active'),(2,'Book Two','Active'),(3,'Book Three','Draft')`)
	exec(t, conn, `CREATE TABLE Texts (ProductId INTEGER, TextRole TEXT, TextValue TEXT)`)
	exec(t, conn, `INSERT INTO Texts VALUES
		(1,'Summary','A fine book'),(1,'Blurb','Buy it now'),
		(2,'Summary','Another fine book'),
		(3,'Summary','Draft text')`)

	requests := []Request{
		{EntityType: "PROD", EntityID: 1, DatasetName: "texts"},
		{EntityType: "PROD", EntityID: 2, DatasetName: "texts"},
		{EntityType: "PROD", EntityID: 3, DatasetName: "texts"},
	}
	results, err := o.Fetch(context.Background(), requests, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	r1 := results[0]
	if r1.Failed {
		t.Fatalf("id 1 failed: %v", r1.Err)
	}
	title, _ := r1.Payload.Get("Title")
	if title.String() != "Book One" {
		t.Fatalf("expected Book One, got %v", title.Interface())
	}
	status, _ := r1.Payload.Get("Status")
	if status.String() != "Active" {
		t.Fatalf("expected Active, got %v", status.Interface())
	}
	list1, ok := r1.Payload.Get("TextsList")
	if !ok || list1.Len() != 2 {
		t.Fatalf("expected 2 texts for product 1, got %+v", list1)
	}
	firstRole, _ := list1.Seq()[0].Get("TextRole")
	if firstRole.String() != "Summary" {
		t.Fatalf("expected fetch order Summary first, got %v", firstRole.Interface())
	}
	hash1, ok := r1.Payload.Get("TextsHash")
	if !ok {
		t.Fatalf("expected TextsHash on product 1")
	}
	blurb, ok := hash1.Get("Blurb")
	if !ok {
		t.Fatalf("expected Blurb key in TextsHash")
	}
	blurbVal, _ := blurb.Get("TextValue")
	if blurbVal.String() != "Buy it now" {
		t.Fatalf("expected 'Buy it now', got %v", blurbVal.Interface())
	}

	r2 := results[1]
	title2, _ := r2.Payload.Get("Title")
	if title2.String() != "Book Two" {
		t.Fatalf("expected Book Two, got %v", title2.Interface())
	}
	list2, _ := r2.Payload.Get("TextsList")
	if list2.Len() != 1 {
		t.Fatalf("expected 1 text for product 2, got %d", list2.Len())
	}
}

func TestFetchStaticSingleBroadcastsToEveryID(t *testing.T) {
	o, _ := newTestHarness(t)

	requests := []Request{
		{EntityType: "PROD", EntityID: 100, DatasetName: "totals"},
		{EntityType: "PROD", EntityID: 200, DatasetName: "totals"},
	}
	results, err := o.Fetch(context.Background(), requests, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for _, r := range results {
		if r.Failed {
			t.Fatalf("id %d failed: %v", r.EntityID, r.Err)
		}
		all, ok := r.Payload.Get("__all__")
		if !ok {
			t.Fatalf("expected __all__ key, got %v", r.Payload.Keys())
		}
		total, _ := all.Get("Total")
		min, _ := all.Get("Min")
		max, _ := all.Get("Max")
		if total.Int() != 4 || min.Int() != 1 || max.Int() != 4 {
			t.Fatalf("unexpected totals row: Total=%v Min=%v Max=%v", total.Interface(), min.Interface(), max.Interface())
		}
	}
}

func TestFetchProcedureHookDigests(t *testing.T) {
	o, _ := newTestHarness(t)

	requests := []Request{
		{EntityType: "PROD", EntityID: 1, DatasetName: "hashes"},
		{EntityType: "PROD", EntityID: 2, DatasetName: "hashes"},
		{EntityType: "PROD", EntityID: 3, DatasetName: "hashes"},
		{EntityType: "PROD", EntityID: 4, DatasetName: "hashes"},
	}
	results, err := o.Fetch(context.Background(), requests, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := []string{
		"c4ca4238a0b923820dcc509a6f75849b",
		"c81e728d9d4c2f636f067f89cc14862c",
		"eccbc87e4b5ce2fe28308fd9f2a7baf3",
		"a87ff679a2f3e71d9181a67b7542122c",
	}
	for i, r := range results {
		if r.Failed {
			t.Fatalf("id %d failed: %v", r.EntityID, r.Err)
		}
		if r.Payload.String() != want[i] {
			t.Fatalf("id %d: expected %s, got %v", r.EntityID, want[i], r.Payload.Interface())
		}
	}
}

func TestFetchTranslatesCodedColumns(t *testing.T) {
	o, conn := newTestHarness(t)

	exec(t, conn, `CREATE TABLE Lists (entity_id INTEGER, List1 TEXT, List2 TEXT, List3 TEXT)`)
	exec(t, conn, `INSERT INTO Lists VALUES (1,'02','P','abc')`)
	exec(t, conn, `CREATE TABLE CodeTables (CodeTableId INTEGER, TableDomain TEXT, TableName TEXT, FlagGrouped TEXT, DataTableSchema TEXT, DataTableName TEXT, DataTableCodeField TEXT, DataTableNameField TEXT)`)
	exec(t, conn, `INSERT INTO CodeTables VALUES
		(1,'ONIX','13','false','','onix13','Code','Desc'),
		(2,'User','User','false','','useruser','Code','Desc')`)
	exec(t, conn, `CREATE TABLE onix13 (Code TEXT, Desc TEXT)`)
	exec(t, conn, `INSERT INTO onix13 VALUES ('02','ISSN'),('21','URN')`)
	exec(t, conn, `CREATE TABLE useruser (Code TEXT, Desc TEXT)`)
	exec(t, conn, `INSERT INTO useruser VALUES ('P','Pendiente')`)

	requests := []Request{{EntityType: "PROD", EntityID: 1, DatasetName: "codes"}}
	results, err := o.Fetch(context.Background(), requests, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	r := results[0]
	if r.Failed {
		t.Fatalf("id 1 failed: %v", r.Err)
	}
	desc1, _ := r.Payload.Get("List1._desc")
	desc2, _ := r.Payload.Get("List2._desc")
	desc3, _ := r.Payload.Get("List3._desc")
	if desc1.String() != "ISSN" {
		t.Fatalf("expected ISSN, got %v", desc1.Interface())
	}
	if desc2.String() != "Pendiente" {
		t.Fatalf("expected Pendiente, got %v", desc2.Interface())
	}
	if desc3.String() != "abc" {
		t.Fatalf("expected unknown list to echo itself, got %v", desc3.Interface())
	}
}

func TestFetchCoercesLooseColumns(t *testing.T) {
	o, conn := newTestHarness(t)

	exec(t, conn, `CREATE TABLE Loose (entity_id INTEGER, CoerceBool TEXT, CoerceDatetime TEXT, CoerceFloatBest TEXT, CoerceFloatNone TEXT)`)
	exec(t, conn, `INSERT INTO Loose VALUES (1,'1','2011-12-02T16:34:45.453Z','abc','abc')`)

	requests := []Request{{EntityType: "PROD", EntityID: 1, DatasetName: "coerced"}}
	results, err := o.Fetch(context.Background(), requests, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	r := results[0]
	if r.Failed {
		t.Fatalf("id 1 failed: %v", r.Err)
	}
	b, _ := r.Payload.Get("CoerceBool")
	if !b.Bool() {
		t.Fatalf("expected true, got %v", b.Interface())
	}
	dt, _ := r.Payload.Get("CoerceDatetime")
	if dt.Time().Year() != 2011 || dt.Time().Month() != 12 || dt.Time().Day() != 2 {
		t.Fatalf("unexpected datetime: %v", dt.Interface())
	}
	fb, _ := r.Payload.Get("CoerceFloatBest")
	if fb.String() != "abc" {
		t.Fatalf("expected unchanged 'abc' in best mode, got %v", fb.Interface())
	}
	fn, ok := r.Payload.Get("CoerceFloatNone")
	if !ok || !fn.IsNull() {
		t.Fatalf("expected null in ok-or-none mode, got %v", fn.Interface())
	}
}

func TestFetchIsolatesRowErrorFromSiblings(t *testing.T) {
	hook.RegisterPost("fetchtest.explodeOnTwo", func(row value.Value) (value.Value, bool, error) {
		id, _ := row.Get("entity_id")
		if id.Int() == 2 {
			return row, false, fmt.Errorf("boom on id 2")
		}
		return row, true, nil
	})

	o, conn := newTestHarness(t)

	exec(t, conn, `CREATE TABLE Triples (entity_id INTEGER, label TEXT)`)
	exec(t, conn, `INSERT INTO Triples VALUES (1,'one'),(2,'two'),(3,'three')`)

	requests := []Request{
		{EntityType: "PROD", EntityID: 1, DatasetName: "triples"},
		{EntityType: "PROD", EntityID: 2, DatasetName: "triples"},
		{EntityType: "PROD", EntityID: 3, DatasetName: "triples"},
	}
	results, err := o.Fetch(context.Background(), requests, "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if results[0].Failed || results[2].Failed {
		t.Fatalf("expected ids 1 and 3 to succeed: %+v / %+v", results[0], results[2])
	}
	if !results[1].Failed {
		t.Fatalf("expected id 2 to fail in isolation")
	}
	label1, _ := results[0].Payload.Get("label")
	if label1.String() != "one" {
		t.Fatalf("expected label 'one', got %v", label1.Interface())
	}
	label3, _ := results[2].Payload.Get("label")
	if label3.String() != "three" {
		t.Fatalf("expected label 'three', got %v", label3.Interface())
	}
}
