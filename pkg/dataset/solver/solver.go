// Package solver implements the dataset solver: given a parsed recipe
// and a batch of ids, it executes the recipe's query or procedure,
// applies grouping/keying/output-format shaping, merges augments, runs
// code-table translation and post-hooks, and assembles the per-id (or
// broadcast, for single=true) result. Grounded on solve/solveMain/
// solveQuery/solveAugment/solveCode in dataset/solver.py.
package solver

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/codetable"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/coerce"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/config"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/db"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/dserror"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/hook"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/metrics"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/query"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/recipe"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// maxAugmentDepth bounds augment recursion, per spec.md §9's suggested
// fixed maximum depth (the recipe grammar is acyclic by construction;
// this is a defensive backstop, not a real limit any recipe hits).
const maxAugmentDepth = 8

// Solver executes recipes against a connection broker and code-table
// cache shared across a whole fetch batch.
type Solver struct {
	Broker     *db.Broker
	CodeTables *codetable.Cache
	Config     *config.Config
	Metrics    metrics.Recorder
}

// New creates a Solver. metricsRecorder may be nil (defaults to a
// no-op recorder).
func New(broker *db.Broker, codeTables *codetable.Cache, cfg *config.Config, metricsRecorder metrics.Recorder) *Solver {
	if metricsRecorder == nil {
		metricsRecorder = metrics.NoOp{}
	}
	return &Solver{Broker: broker, CodeTables: codeTables, Config: cfg, Metrics: metricsRecorder}
}

// Solve executes rec for idList, returning a Map value keyed by the
// string form of each id (the common case, when the recipe's
// query.key resolves to the id column) or, when rec.Single, a Map
// broadcasting the same merged payload to every id, matching solve()'s
// top-level dispatch. rowErrors carries per-id failures that do not
// invalidate the rest of the batch — currently populated only by
// post-hook failures in solveQuery, which are isolated to the row
// whose filter/id column produced them rather than failing the whole
// group (a deliberate redesign from the original's group-fatal
// postProcess exception, recorded in DESIGN.md).
func (s *Solver) Solve(ctx context.Context, rec *recipe.Recipe, entityType, datasetName string, idList []int64) (value.Value, map[int64]error, error) {
	return s.solve(ctx, rec, entityType, datasetName, idList, 0)
}

func (s *Solver) solve(ctx context.Context, rec *recipe.Recipe, entityType, datasetName string, idList []int64, depth int) (value.Value, map[int64]error, error) {
	start := time.Now()
	result, rowErrors, err := s.solveMain(ctx, rec, entityType, datasetName, idList, depth)
	if err != nil {
		s.Metrics.IncGroupError(entityType, datasetName)
		return value.Null(), nil, err
	}

	if rec.Single {
		partial, err := s.solveAugmentSet(ctx, rec.Augments, entityType, datasetName, idList, depth)
		if err != nil {
			s.Metrics.IncGroupError(entityType, datasetName)
			return value.Null(), nil, err
		}
		if result.IsNull() || result.Kind() != value.KindMap {
			result = value.NewMap()
		}
		for _, k := range partial.Keys() {
			v, _ := partial.Get(k)
			result.Set(k, v)
		}

		broadcast := newOrderedMap()
		for _, id := range idList {
			broadcast.set(strconv.FormatInt(id, 10), result)
		}
		s.Metrics.ObserveSolve(entityType, datasetName, time.Since(start).Seconds())
		return broadcast.toValue(), rowErrors, nil
	}

	s.Metrics.ObserveSolve(entityType, datasetName, time.Since(start).Seconds())
	return result, rowErrors, nil
}

// solveMain decides between query and procedure execution, matching
// solveMain's "query.sql present? else code.name" dispatch.
func (s *Solver) solveMain(ctx context.Context, rec *recipe.Recipe, entityType, datasetName string, idList []int64, depth int) (value.Value, map[int64]error, error) {
	if depth > maxAugmentDepth {
		return value.Null(), nil, &dserror.ConfigurationError{Entity: entityType, Dataset: datasetName, Msg: "augment recursion exceeded maximum depth"}
	}
	if rec.Query != nil && rec.Query.SQL != "" {
		return s.solveQuery(ctx, rec, entityType, datasetName, idList, depth)
	}
	if rec.Code != nil && rec.Code.Name != "" {
		v, err := s.solveCode(ctx, rec, entityType, datasetName, idList)
		return v, nil, err
	}
	return value.NewMap(), nil, nil
}

// solveAugmentSet solves every augment sub-recipe in the order of the
// augments slice (sorted by augment name, see recipe.Query.Augments)
// over the full idList, matching solveAugment. Row-level errors
// within an augment are not propagated to the parent; an augment
// failure is group-fatal, matching the original's undifferentiated
// try/except around the whole augment step.
func (s *Solver) solveAugmentSet(ctx context.Context, augments []recipe.Augment, entityType, datasetName string, idList []int64, depth int) (value.Value, error) {
	result := newOrderedMap()
	for _, a := range augments {
		sub, _, err := s.solveMain(ctx, a.Recipe, entityType, datasetName, idList, depth+1)
		if err != nil {
			return value.Null(), fmt.Errorf("augment %q: %w", a.Name, err)
		}
		result.set(a.Name, sub)
	}
	return result.toValue(), nil
}

func (s *Solver) solveCode(ctx context.Context, rec *recipe.Recipe, entityType, datasetName string, idList []int64) (value.Value, error) {
	fn, err := hook.Procedures.Lookup(rec.Code.Name)
	if err != nil {
		return value.Null(), err
	}
	m, err := fn(entityType, datasetName, idList)
	if err != nil {
		return value.Null(), &dserror.RuntimeError{Entity: entityType, Dataset: datasetName, Msg: "procedure " + rec.Code.Name + " failed", Cause: err}
	}
	out := newOrderedMap()
	for _, id := range idList {
		if v, ok := m[id]; ok {
			out.set(strconv.FormatInt(id, 10), v)
		}
	}
	return out.toValue(), nil
}

// resolvedGroupKey is query.group/query.key resolved to column
// indices into query.columns, with the "group is a prefix of key"
// reduction from spec.md §3 already applied.
type resolvedGroupKey struct {
	group   []int
	key     []int
	columns []string
}

func resolveGroupKey(q *recipe.Query) resolvedGroupKey {
	index := make(map[string]int, len(q.Columns))
	for i, c := range q.Columns {
		index[c] = i
	}
	group := make([]int, len(q.Group))
	for i, c := range q.Group {
		group[i] = index[c]
	}
	key := make([]int, len(q.Key))
	for i, c := range q.Key {
		key[i] = index[c]
	}
	// drop the shared prefix, matching the recipe-level invariant that
	// group is either a prefix of key or disjoint from it
	if len(group) > 0 && len(key) >= len(group) {
		isPrefix := true
		for i := range group {
			if key[i] != group[i] {
				isPrefix = false
				break
			}
		}
		if isPrefix {
			key = key[len(group):]
		}
	}
	return resolvedGroupKey{group: group, key: key, columns: q.Columns}
}

func compositeKey(row []value.Value, idx []int) string {
	if len(idx) == 1 {
		return row[idx[0]].String()
	}
	parts := make([]string, len(idx))
	for i, ix := range idx {
		parts[i] = row[ix].String()
	}
	return strings.Join(parts, "\x1f")
}

// solveQuery executes the recipe's query.sql, shapes the result per
// the output-format decision table in spec.md §4.7, and merges
// augments, translation, coercion and post-hooks row by row. Grounded
// on solveQuery in dataset/solver.py.
func (s *Solver) solveQuery(ctx context.Context, rec *recipe.Recipe, entityType, datasetName string, idList []int64, depth int) (value.Value, map[int64]error, error) {
	q := rec.Query

	var augmentResults map[string]value.Value
	if len(q.Augments) > 0 {
		augmentResults = make(map[string]value.Value, len(q.Augments))
		for _, a := range q.Augments {
			sub, _, err := s.solveMain(ctx, a.Recipe, entityType, datasetName, idList, depth+1)
			if err != nil {
				return value.Null(), nil, fmt.Errorf("augment %q: %w", a.Name, err)
			}
			augmentResults[a.Name] = sub
		}
	}

	conn, err := s.Broker.Get(ctx, rec.Database)
	if err != nil {
		return value.Null(), nil, &dserror.RuntimeError{Entity: entityType, Dataset: datasetName, Msg: "acquiring connection", Cause: err}
	}

	sqlText := query.Build(q.SQL, q.Prefix, q.ID, q.Var, entityType, idList, s.Config)

	rows, err := conn.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return value.Null(), nil, &dserror.RuntimeError{Entity: entityType, Dataset: datasetName, Msg: "query execution failed", Cause: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err == nil && len(cols) < len(q.Columns) {
		return value.Null(), nil, &dserror.ConfigurationError{Entity: entityType, Dataset: datasetName,
			Msg: "query returned fewer columns than query.columns states"}
	}

	// idColumn resolves the column whose value names the entity id a
	// row belongs to, used to isolate a post-hook failure to its row's
	// id instead of failing the whole group. Prefers query.filter
	// (already id-typed by construction), falling back to the first
	// query.id placeholder column.
	idColumn := -1
	if q.Filter != "" {
		idColumn = indexOf(q.Columns, q.Filter)
	}
	if idColumn < 0 && len(q.ID) > 0 {
		idColumn = indexOf(q.Columns, q.ID[0])
	}
	rowErrors := map[int64]error{}

	rk := resolveGroupKey(q)
	grouping := len(rk.group) > 0
	keying := len(rk.key) > 0
	isList := q.Output == "list"

	idSet := make(map[int64]bool, len(idList))
	for _, id := range idList {
		idSet[id] = true
	}

	var (
		listRows     []value.Value
		flatOrdered  = newOrderedMap() // no group
		groupOrdered []string
		groupRows    = map[string][]value.Value{}
		groupKeyed   = map[string]*orderedMap{}
		rowNumber    int
		firstRow     value.Value
		haveFirst    bool
	)
	groupSeen := map[string]bool{}

	for rows.Next() {
		scanned, err := scanRow(rows, len(cols))
		if err != nil {
			return value.Null(), nil, &dserror.RuntimeError{Entity: entityType, Dataset: datasetName, Msg: "scanning row", Cause: err}
		}

		row := make([]value.Value, len(q.Columns))
		for i := range q.Columns {
			row[i] = scanned[i]
		}

		var rowID int64
		haveRowID := false
		if idColumn >= 0 {
			rowID, haveRowID = asInt64(row[idColumn])
		}

		if q.Filter != "" {
			idx := indexOf(q.Columns, q.Filter)
			if idx >= 0 {
				fv := row[idx]
				id, ok := asInt64(fv)
				if !ok || !idSet[id] {
					continue
				}
			}
		}

		rowVal := value.NewMap()
		for i, name := range q.Columns {
			rowVal.Set(name, row[i])
		}

		if conn.LooseTypes && !q.Coerce.IsNull() {
			rowVal, err = coerce.Coerce(entityType, datasetName, rowVal, q.Coerce)
			if err != nil {
				return value.Null(), nil, err
			}
			for i, name := range q.Columns {
				row[i], _ = rowVal.Get(name)
			}
		}

		var gKey, kKey string
		if grouping {
			gKey = compositeKey(row, rk.group)
		}
		if keying {
			kKey = compositeKey(row, rk.key)
		}

		if len(q.Augments) > 0 {
			for _, a := range q.Augments {
				data := augmentResults[a.Name]
				var augmentData value.Value
				found := false

				if len(a.JoinKey) > 0 {
					idx := make([]int, len(a.JoinKey))
					for i, name := range a.JoinKey {
						idx[i] = indexOf(q.Columns, name)
					}
					jKey := compositeKey(row, idx)
					if v, ok := data.Get(jKey); ok {
						augmentData, found = v, true
					}
				}
				if !found && grouping {
					if v, ok := data.Get(gKey); ok {
						augmentData, found = v, true
					} else if v, ok := data.Get("__all__"); ok {
						augmentData, found = v, true
					}
				}
				if !found && keying {
					if v, ok := data.Get(kKey); ok {
						augmentData, found = v, true
					} else if v, ok := data.Get("__all__"); ok {
						augmentData, found = v, true
					}
				}
				if found {
					rowVal.Set(a.Name, augmentData)
				} else {
					rowVal.Set(a.Name, value.Null())
				}
			}
		}

		if !q.Translate.IsNull() {
			rowVal = codetable.Translate(ctx, s.CodeTables, q.Translate, rowVal)
		}

		dropped := false
		for _, name := range q.Post {
			fn, err := hook.Posts.Lookup(name)
			if err != nil {
				if !haveRowID {
					return value.Null(), nil, err
				}
				rowErrors[rowID] = err
				dropped = true
				break
			}
			var keep bool
			rowVal, keep, err = fn(rowVal)
			if err != nil {
				hookErr := &dserror.RuntimeError{Entity: entityType, Dataset: datasetName, Msg: "post hook " + name + " failed", Cause: err}
				// a post-hook failure is isolated to the row that
				// triggered it when the row's entity id is known,
				// rather than failing every id in the group — a
				// deliberate redesign from the original's group-fatal
				// exception propagation, recorded in DESIGN.md.
				if !haveRowID {
					return value.Null(), nil, hookErr
				}
				rowErrors[rowID] = hookErr
				dropped = true
				break
			}
			if !keep {
				dropped = true
				break
			}
		}
		if dropped {
			continue
		}

		if !haveFirst {
			firstRow = rowVal
			haveFirst = true
		}

		switch {
		case isList:
			listRows = append(listRows, rowVal)
		case grouping && keying:
			inner, ok := groupKeyed[gKey]
			if !ok {
				inner = newOrderedMap()
				groupKeyed[gKey] = inner
			}
			inner.set(kKey, rowVal)
			if !groupSeen[gKey] {
				groupSeen[gKey] = true
				groupOrdered = append(groupOrdered, gKey)
			}
		case grouping:
			groupRows[gKey] = append(groupRows[gKey], rowVal)
			if !groupSeen[gKey] {
				groupSeen[gKey] = true
				groupOrdered = append(groupOrdered, gKey)
			}
		case keying:
			flatOrdered.set(kKey, rowVal)
		default:
			flatOrdered.set(strconv.Itoa(rowNumber), rowVal)
		}
		rowNumber++
	}
	if err := rows.Err(); err != nil {
		return value.Null(), nil, &dserror.RuntimeError{Entity: entityType, Dataset: datasetName, Msg: "iterating rows", Cause: err}
	}
	if len(rowErrors) == 0 {
		rowErrors = nil
	}

	if q.Static {
		out := value.NewMap()
		if haveFirst {
			out.Set("__all__", firstRow)
		}
		return out, rowErrors, nil
	}

	switch {
	case isList:
		return value.Seq(listRows...), rowErrors, nil
	case grouping && keying:
		out := newOrderedMap()
		for _, g := range groupOrdered {
			out.set(g, groupKeyed[g].toValue())
		}
		return out.toValue(), rowErrors, nil
	case grouping:
		out := newOrderedMap()
		for _, g := range groupOrdered {
			out.set(g, value.Seq(groupRows[g]...))
		}
		return out.toValue(), rowErrors, nil
	default:
		return flatOrdered.toValue(), rowErrors, nil
	}
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func asInt64(v value.Value) (int64, bool) {
	switch v.Kind() {
	case value.KindInt:
		return v.Int(), true
	case value.KindFloat:
		return int64(v.Float()), true
	case value.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// scanRow reads the current row into n value.Values using generic
// interface{} scanning, matching the teacher's approach in
// pkg/builtins/sqlsend.go of scanning through *interface{} and
// special-casing textual driver types rather than relying on a fixed
// Go type per column.
func scanRow(rows *sql.Rows, n int) ([]value.Value, error) {
	raw := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make([]value.Value, n)
	for i, v := range raw {
		out[i] = toValue(v)
	}
	return out, nil
}

func toValue(v interface{}) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null()
	case int64:
		return value.Int(t)
	case int:
		return value.Int(int64(t))
	case float64:
		return value.Float(t)
	case bool:
		return value.Bool(t)
	case []byte:
		return value.String(string(t))
	case string:
		return value.String(t)
	case time.Time:
		return value.Time(t)
	default:
		return value.String(fmt.Sprintf("%v", t))
	}
}
