// Package hook implements the registry Go uses in place of the
// original's importlib-based dynamic import/bind: since Go has no
// runtime module import, "import module, bind function" becomes "look
// up in a process-wide registry populated at init() time by the
// packages that define hook functions" — the same idiom
// database/sql drivers use to self-register via blank import, and the
// one the dataset engine's own recipe.Code/Query.Post names are
// resolved through. Grounded on postProcess/solveCode in
// dataset/solver.py.
package hook

import (
	"strings"
	"sync"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/dserror"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// registry is a generic, process-wide name -> function table. T is
// ProcFunc or PostFunc.
type registry[T any] struct {
	mu    sync.RWMutex
	funcs map[string]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{funcs: map[string]T{}}
}

// Register installs name ("module.function") into the registry.
// Idempotent: the last registration for a given name wins, matching
// spec.md §5's "idempotent install of an entry; last writer wins".
func (r *registry[T]) Register(name string, fn T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup resolves name, validating the "module.function" shape per
// spec.md §3's hook-name invariant before consulting the table.
func (r *registry[T]) Lookup(name string) (T, error) {
	var zero T
	if strings.Count(name, ".") != 1 {
		return zero, &dserror.ConfigurationError{Msg: "hook name [" + name + "] must contain exactly one '.'"}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return zero, &dserror.UnknownHook{Name: name, Msg: "not registered"}
	}
	return fn, nil
}

// ProcFunc is a procedure hook, bound to "code.name" in a recipe:
// given the entity type, dataset name and id list, it returns a
// mapping id -> payload, matching solveCode's f(dataset, entityType,
// datasetName, idList) call shape (the recipe argument itself is
// unused by every hook the pack defines, so it is omitted here).
type ProcFunc func(entityType, datasetName string, idList []int64) (map[int64]value.Value, error)

// PostFunc is a post-processing hook, bound to one entry of
// "query.post": given a row, it returns the (possibly modified) row
// and whether to keep it — false means "drop", matching the sentinel
// "drop" value described in spec.md §4.7.
type PostFunc func(row value.Value) (value.Value, bool, error)

// Procedures is the process-wide registry for code.name lookups.
var Procedures = newRegistry[ProcFunc]()

// Posts is the process-wide registry for query.post lookups.
var Posts = newRegistry[PostFunc]()

// RegisterProcedure installs a procedure hook under name
// ("module.function"), analogous to database/sql drivers registering
// themselves via blank import + init().
func RegisterProcedure(name string, fn ProcFunc) { Procedures.Register(name, fn) }

// RegisterPost installs a post-processing hook under name.
func RegisterPost(name string, fn PostFunc) { Posts.Register(name, fn) }
