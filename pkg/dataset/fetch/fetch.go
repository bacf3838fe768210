// Package fetch implements the batched fetch orchestrator: the public
// entry point that groups many per-entity requests by ⟨EntityType,
// DatasetName⟩, solves each group once, and reassembles a result
// sequence aligned with the input. Grounded on fetch()/setPreProcess()
// in dataset/__init__.py.
package fetch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/dserror"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/metrics"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/recipe"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/solver"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// Request is one ⟨EntityType, EntityId, DatasetName⟩ lookup, per
// spec.md §2.
type Request struct {
	EntityType  string
	EntityID    int64
	DatasetName string
}

// Result is the per-request outcome: either a data document (Failed ==
// false, Payload holds it) or an error (Failed == true, Err holds it).
type Result struct {
	EntityType  string
	EntityID    int64
	DatasetName string
	Failed      bool
	Payload     value.Value
	Err         error
}

// PreProcessFunc may rewrite the request list before grouping, e.g. to
// split a generic dataset name into entity-id-specific variants.
type PreProcessFunc func(requests []Request, application string) []Request

// Orchestrator groups and solves batches of requests, sharing one
// recipe repository registry and solver across every call.
type Orchestrator struct {
	solver     *solver.Solver
	repoFor    func(application string) (*recipe.Repository, error)
	repoMu     sync.Mutex
	repos      map[string]*recipe.Repository
	metrics    metrics.Recorder
	log        *zerolog.Logger
	fanOutCap  int

	preMu       sync.Mutex
	preProcess  PreProcessFunc
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger attaches a structured logger; nil leaves logging disabled.
func WithLogger(log *zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithFanOut bounds how many ⟨EntityType, DatasetName⟩ groups run
// concurrently within one fetch call; 0 or negative means unbounded.
func WithFanOut(n int) Option {
	return func(o *Orchestrator) { o.fanOutCap = n }
}

// New creates an Orchestrator. repoFor resolves a recipe.Repository for
// a named application, memoizing per application the way
// loader.getLoader(application) does in the original source.
func New(s *solver.Solver, repoFor func(application string) (*recipe.Repository, error), metricsRecorder metrics.Recorder, opts ...Option) *Orchestrator {
	if metricsRecorder == nil {
		metricsRecorder = metrics.NoOp{}
	}
	o := &Orchestrator{
		solver:  s,
		repoFor: repoFor,
		repos:   map[string]*recipe.Repository{},
		metrics: metricsRecorder,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetPreProcess installs a new pre-process hook and returns the
// previous one (nil if none was set), matching setPreProcess's
// "always return the old pre-process function" contract.
func (o *Orchestrator) SetPreProcess(fn PreProcessFunc) PreProcessFunc {
	o.preMu.Lock()
	defer o.preMu.Unlock()
	prev := o.preProcess
	o.preProcess = fn
	return prev
}

func (o *Orchestrator) currentPreProcess() PreProcessFunc {
	o.preMu.Lock()
	defer o.preMu.Unlock()
	return o.preProcess
}

type fetchSet struct {
	entityType  string
	datasetName string
	idList      []int64
	idSeen      map[int64]bool
}

// Fetch resolves requests, defaulting application to "default", and
// returns a Result sequence in the same order and length as requests,
// per spec.md §4.8's "Reassemble the result as a sequence aligned with
// the input requests."
func (o *Orchestrator) Fetch(ctx context.Context, requests []Request, application string) ([]Result, error) {
	if application == "" {
		application = "default"
	}

	if pre := o.currentPreProcess(); pre != nil {
		requests = pre(requests, application)
	}

	repo, err := o.repositoryFor(application)
	if err != nil {
		return nil, err
	}

	// first pass: group by (EntityType, DatasetName), deduplicating ids
	// in first-seen order, matching fetchSets in the original source.
	order := make([]string, 0, 8)
	sets := make(map[string]*fetchSet, 8)
	groupKey := func(entityType, datasetName string) string { return entityType + "\x1f" + datasetName }

	for _, r := range requests {
		k := groupKey(r.EntityType, r.DatasetName)
		set, ok := sets[k]
		if !ok {
			set = &fetchSet{entityType: r.EntityType, datasetName: r.DatasetName, idSeen: map[int64]bool{}}
			sets[k] = set
			order = append(order, k)
		}
		if !set.idSeen[r.EntityID] {
			set.idSeen[r.EntityID] = true
			set.idList = append(set.idList, r.EntityID)
		}
	}

	groupResults := make(map[string]map[int64]Result, len(order))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if o.fanOutCap > 0 {
		g.SetLimit(o.fanOutCap)
	}

	for _, k := range order {
		k := k
		set := sets[k]
		g.Go(func() error {
			res := o.solveGroup(gctx, repo, set)
			mu.Lock()
			groupResults[k] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Result, len(requests))
	for i, r := range requests {
		k := groupKey(r.EntityType, r.DatasetName)
		entry, ok := groupResults[k][r.EntityID]
		if !ok {
			entry = Result{
				EntityType:  r.EntityType,
				EntityID:    r.EntityID,
				DatasetName: r.DatasetName,
				Failed:      true,
				Err:         &dserror.MissingKey{EntityID: strconv.FormatInt(r.EntityID, 10)},
			}
		}
		out[i] = entry
	}
	return out, nil
}

// solveGroup resolves the recipe and solves it once for every id in
// set, matching the per-group try/except block in the original fetch().
func (o *Orchestrator) solveGroup(ctx context.Context, repo *recipe.Repository, set *fetchSet) map[int64]Result {
	start := time.Now()
	results := make(map[int64]Result, len(set.idList))

	rec, err := repo.Get(set.entityType, set.datasetName)
	if err != nil {
		o.metrics.IncGroupError(set.entityType, set.datasetName)
		o.logGroupError(set, err)
		for _, id := range set.idList {
			results[id] = Result{EntityType: set.entityType, EntityID: id, DatasetName: set.datasetName, Failed: true, Err: err}
		}
		return results
	}

	data, rowErrors, err := o.solver.Solve(ctx, rec, set.entityType, set.datasetName, set.idList)
	if err != nil {
		o.metrics.IncGroupError(set.entityType, set.datasetName)
		o.logGroupError(set, err)
		for _, id := range set.idList {
			results[id] = Result{EntityType: set.entityType, EntityID: id, DatasetName: set.datasetName, Failed: true, Err: err}
		}
		return results
	}

	for _, id := range set.idList {
		if rowErr, ok := rowErrors[id]; ok {
			results[id] = Result{EntityType: set.entityType, EntityID: id, DatasetName: set.datasetName, Failed: true, Err: rowErr}
			continue
		}
		key := strconv.FormatInt(id, 10)
		payload, ok := data.Get(key)
		if !ok {
			results[id] = Result{EntityType: set.entityType, EntityID: id, DatasetName: set.datasetName,
				Failed: true, Err: &dserror.MissingKey{EntityID: key}}
			continue
		}
		results[id] = Result{EntityType: set.entityType, EntityID: id, DatasetName: set.datasetName, Payload: payload}
	}

	if o.log != nil {
		o.log.Debug().
			Str("entity_type", set.entityType).
			Str("dataset", set.datasetName).
			Dur("elapsed", time.Since(start)).
			Int("id_count", len(set.idList)).
			Msg("solved dataset group")
	}
	return results
}

func (o *Orchestrator) logGroupError(set *fetchSet, err error) {
	if o.log == nil {
		return
	}
	o.log.Error().
		Str("entity_type", set.entityType).
		Str("dataset", set.datasetName).
		Err(err).
		Msg("dataset group failed")
}

func (o *Orchestrator) repositoryFor(application string) (*recipe.Repository, error) {
	o.repoMu.Lock()
	defer o.repoMu.Unlock()
	if r, ok := o.repos[application]; ok {
		return r, nil
	}
	r, err := o.repoFor(application)
	if err != nil {
		return nil, err
	}
	o.repos[application] = r
	return r, nil
}
