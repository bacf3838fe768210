// Package recipe implements the recipe data model and its document
// parsing: a tree-shaped declarative document describing how to build a
// dataset from one or more queries or procedures, grounded on the
// "dataset file" format read by ecommerce.db.dataset.loader and
// interpreted by ecommerce.db.dataset.solver. Parsing happens once per
// file; the result is an immutable record with typed optional fields,
// per the design note in spec.md §9 ("Recipes as data").
package recipe

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/dserror"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// Augment is a named sub-recipe attached to a parent query, merged into
// every row of the parent by group/key/join rules (spec.md §3
// query.augment).
type Augment struct {
	Name    string
	Recipe  *Recipe
	JoinKey []string // query.augment.<name>.join.key, nil if absent
}

// Query is the query-driven half of a recipe node (spec.md §3).
type Query struct {
	SQL       string
	Columns   []string
	ID        []string
	Prefix    string
	Var       map[string]string
	Output    string // "list" or "" (mapping)
	Static    bool
	Group     []string
	Key       []string
	Filter    string
	Coerce    value.Value // raw query.coerce directives, passed to coerce.Coerce
	Translate value.Value // raw query.translate mapping, passed to codetable.Translate
	Augments  []Augment   // sorted by augment name; the order of declaration in the file is not kept
	Post      []string
}

// Code is the procedure-driven half of a recipe node (spec.md §3).
type Code struct {
	Name string
}

// Recipe is one parsed dataset document. A recipe is either
// query-driven (Query.SQL non-empty) or procedure-driven (Code.Name
// non-empty); never both, per the invariant in spec.md §3.
type Recipe struct {
	Single   bool
	Database string
	Query    *Query
	Code     *Code
	Augments []Augment // top-level "augment", used only when Single
}

// Parse decodes raw YAML/JSON bytes into a Recipe, grounded on
// yaml.safe_load(dcontents) in loader.py. Unknown keys are ignored,
// matching spec.md §6.
func Parse(entity, dataset string, raw []byte) (*Recipe, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &dserror.RecipeSyntaxError{Entity: entity, Dataset: dataset, Cause: err}
	}
	root := value.FromInterface(doc)
	return fromValue(entity, dataset, root)
}

func fromValue(entity, dataset string, root value.Value) (*Recipe, error) {
	if root.IsNull() || root.Kind() != value.KindMap {
		return nil, &dserror.RecipeSyntaxError{Entity: entity, Dataset: dataset, Cause: fmt.Errorf("recipe document is not a mapping")}
	}

	r := &Recipe{}

	if v, ok := root.Get("single"); ok {
		r.Single = v.Kind() == value.KindBool && v.Bool()
	}
	if v, ok := root.Get("database"); ok {
		r.Database = v.String()
	}

	if qv, ok := root.Get("query"); ok && qv.Kind() == value.KindMap {
		q, err := parseQuery(entity, dataset, qv)
		if err != nil {
			return nil, err
		}
		r.Query = q
	}
	if cv, ok := root.Get("code"); ok && cv.Kind() == value.KindMap {
		name := ""
		if nv, ok := cv.Get("name"); ok {
			name = nv.String()
		}
		r.Code = &Code{Name: name}
	}

	if r.Query != nil && r.Query.SQL != "" && r.Code != nil && r.Code.Name != "" {
		return nil, &dserror.ConfigurationError{Entity: entity, Dataset: dataset,
			Msg: "recipe has both query.sql and code.name; a recipe must be either query-driven or procedure-driven"}
	}

	if av, ok := root.Get("augment"); ok && av.Kind() == value.KindMap {
		augs, err := parseAugments(entity, dataset, av)
		if err != nil {
			return nil, err
		}
		r.Augments = augs
	}

	if r.Query == nil && r.Code == nil {
		return nil, &dserror.ConfigurationError{Entity: entity, Dataset: dataset,
			Msg: "recipe has neither query nor code section"}
	}

	return r, nil
}

func parseQuery(entity, dataset string, qv value.Value) (*Query, error) {
	q := &Query{Var: map[string]string{}}

	if v, ok := qv.Get("sql"); ok {
		q.SQL = v.String()
	}
	q.Columns = stringSeq(qv, "columns")
	q.ID = stringSeq(qv, "id")
	if v, ok := qv.Get("prefix"); ok {
		q.Prefix = v.String()
	}
	if v, ok := qv.Get("var"); ok && v.Kind() == value.KindMap {
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			q.Var[k] = val.String()
		}
	}
	if v, ok := qv.Get("output"); ok {
		q.Output = v.String()
	}
	if v, ok := qv.Get("static"); ok {
		q.Static = v.Kind() == value.KindBool && v.Bool()
	}
	q.Group = stringSeq(qv, "group")
	q.Key = stringSeq(qv, "key")
	if v, ok := qv.Get("filter"); ok {
		q.Filter = v.String()
	}
	if v, ok := qv.Get("coerce"); ok {
		q.Coerce = v
	}
	if v, ok := qv.Get("translate"); ok {
		q.Translate = v
	}
	q.Post = stringSeq(qv, "post")

	if err := validateGroupKeyPrefix(entity, dataset, q.Group, q.Key); err != nil {
		return nil, err
	}
	if err := validateColumnsCover(entity, dataset, q); err != nil {
		return nil, err
	}
	for _, name := range q.Post {
		if err := validateHookName(entity, dataset, name); err != nil {
			return nil, err
		}
	}

	if av, ok := qv.Get("augment"); ok && av.Kind() == value.KindMap {
		augs, err := parseAugments(entity, dataset, av)
		if err != nil {
			return nil, err
		}
		q.Augments = augs
	}

	return q, nil
}

// validateGroupKeyPrefix enforces "group is a prefix of key or disjoint"
// from spec.md §3's grouping invariant.
func validateGroupKeyPrefix(entity, dataset string, group, key []string) error {
	if len(group) == 0 || len(key) == 0 {
		return nil
	}
	prefix := len(group) <= len(key)
	if prefix {
		for i, g := range group {
			if key[i] != g {
				prefix = false
				break
			}
		}
	}
	if prefix {
		return nil
	}
	// disjoint check
	seen := make(map[string]bool, len(group))
	for _, g := range group {
		seen[g] = true
	}
	for _, k := range key {
		if seen[k] {
			return &dserror.ConfigurationError{Entity: entity, Dataset: dataset,
				Msg: "query.group must be a prefix of query.key or disjoint from it"}
		}
	}
	return nil
}

func validateColumnsCover(entity, dataset string, q *Query) error {
	cols := make(map[string]bool, len(q.Columns))
	for _, c := range q.Columns {
		cols[c] = true
	}
	check := func(names []string, field string) error {
		for _, n := range names {
			if !cols[n] {
				return &dserror.ConfigurationError{Entity: entity, Dataset: dataset,
					Msg: fmt.Sprintf("%s column %q is not in query.columns", field, n)}
			}
		}
		return nil
	}
	if err := check(q.Group, "query.group"); err != nil {
		return err
	}
	if err := check(q.Key, "query.key"); err != nil {
		return err
	}
	if q.Filter != "" && !cols[q.Filter] {
		return &dserror.ConfigurationError{Entity: entity, Dataset: dataset,
			Msg: fmt.Sprintf("query.filter column %q is not in query.columns", q.Filter)}
	}
	return nil
}

// validateHookName enforces the "exactly one '.'" invariant from
// spec.md §3.
func validateHookName(entity, dataset, name string) error {
	if strings.Count(name, ".") != 1 {
		return &dserror.ConfigurationError{Entity: entity, Dataset: dataset,
			Msg: fmt.Sprintf("hook name %q must contain exactly one '.'", name)}
	}
	return nil
}

func parseAugments(entity, dataset string, av value.Value) ([]Augment, error) {
	out := make([]Augment, 0, av.Len())
	for _, name := range av.Keys() {
		sub, _ := av.Get(name)
		subRecipe, err := fromValue(entity, dataset, sub)
		if err != nil {
			return nil, err
		}
		a := Augment{Name: name, Recipe: subRecipe}
		if jv, ok := sub.Get("join"); ok && jv.Kind() == value.KindMap {
			a.JoinKey = stringSeq(jv, "key")
		}
		out = append(out, a)
	}
	return out, nil
}

func stringSeq(v value.Value, key string) []string {
	sub, ok := v.Get(key)
	if !ok {
		return nil
	}
	if sub.Kind() == value.KindString {
		return []string{sub.String()}
	}
	if sub.Kind() != value.KindSeq {
		return nil
	}
	out := make([]string, 0, sub.Len())
	for _, item := range sub.Seq() {
		out = append(out, item.String())
	}
	return out
}
