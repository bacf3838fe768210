// Package codetable implements the code-table cache and translator:
// code -> description lookups backed by a master "table of tables",
// grounded on ecommerce.db.codetables (cache.py, translator.py,
// __init__.py). A table not present in the master list is still
// translatable: a synthetic, "undefined" descriptor is created on first
// access and every code translates to itself, matching
// _codeTableFind's handling of tables missing from the cache.
package codetable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/config"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/metrics"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// Querier is the slice of the Connection Broker the cache needs: a
// logical database name resolves to something queryable. Kept narrow so
// tests can fake it without standing up pkg/dataset/db.
type Querier interface {
	QueryContext(ctx context.Context, dbName, query string, args ...interface{}) (*sql.Rows, error)
}

// Descriptor is one entry of the master code-table list, mirroring the
// dict built by _loadCache/_codeTableFind in cache.py.
type Descriptor struct {
	ID              int64
	Domain          string
	Name            string
	Fullname        string
	Grouped         bool
	TableSchema     string
	TableName       string
	TableColumnID   string
	TableColumnCode string
	TableColumnDesc string
	Defined         bool

	mu   sync.Mutex
	data map[string]string // nil = not loaded yet
}

// fieldConfig names the columns of the master table, configurable under
// "codetables.fields.*" exactly as _loadConfig defaults them.
type fieldConfig struct {
	dbName          string
	codeTable       string
	tableID         string
	tableDomain     string
	tableName       string
	flagGrouped     string
	dataTableSchema string
	dataTableName   string
	dataTableID     string
	dataTableCode   string
	dataTableDesc   string
}

func loadFieldConfig(cfg *config.Config) fieldConfig {
	return fieldConfig{
		dbName:          cfg.GetString("codetables.database", ""),
		codeTable:       cfg.GetString("codetables.codetable", "CodeTables"),
		tableID:         cfg.GetString("codetables.fields.tableId", "CodeTableId"),
		tableDomain:     cfg.GetString("codetables.fields.tableDomain", "TableDomain"),
		tableName:       cfg.GetString("codetables.fields.tableName", "TableName"),
		flagGrouped:     cfg.GetString("codetables.fields.flagGrouped", "FlagGrouped"),
		dataTableSchema: cfg.GetString("codetables.fields.dataTableSchema", "DataTableSchema"),
		dataTableName:   cfg.GetString("codetables.fields.dataTableName", "DataTableName"),
		dataTableID:     cfg.GetString("codetables.fields.dataTableId", "CodeTableId"),
		dataTableCode:   cfg.GetString("codetables.fields.dataTableCode", "DataTableCodeField"),
		dataTableDesc:   cfg.GetString("codetables.fields.dataTableDesc", "DataTableNameField"),
	}
}

// Cache is the code-table master list plus lazily loaded per-table data,
// grounded on the module-level _cache in cache.py. Safe for concurrent
// use: a single RWMutex guards the map, individual Descriptors guard
// their own lazy "data" load.
type Cache struct {
	q       Querier
	fields  fieldConfig
	metrics metrics.Recorder

	mu      sync.RWMutex
	byName  map[string]*Descriptor
	loaded  bool
}

// New creates a Cache. Call Load once before first use (or let Find do
// it lazily); recorder may be metrics.NoOp{}.
func New(q Querier, cfg *config.Config, recorder metrics.Recorder) *Cache {
	if recorder == nil {
		recorder = metrics.NoOp{}
	}
	return &Cache{q: q, fields: loadFieldConfig(cfg), metrics: recorder, byName: map[string]*Descriptor{}}
}

// Load performs the bulk master-table read, grounded on _loadCache. It
// is idempotent: subsequent calls are no-ops once the cache has loaded,
// matching _initializeCache's "if _cache is None" guard.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	c.loaded = true

	if c.fields.dbName == "" {
		return nil
	}

	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s, %s, %s FROM %s",
		c.fields.tableID, c.fields.tableDomain, c.fields.tableName, c.fields.flagGrouped,
		c.fields.dataTableSchema, c.fields.dataTableName, c.fields.dataTableCode, c.fields.dataTableDesc,
		c.fields.codeTable)

	rows, err := c.q.QueryContext(ctx, c.fields.dbName, query)
	if err != nil {
		// never fail: an unreachable master table just means every
		// lookup falls through to a synthetic descriptor.
		return nil
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                              int64
			domain, name, schema, tableName string
			grouped                         sql.NullString
			code, desc                      string
		)
		if err := rows.Scan(&id, &domain, &name, &grouped, &schema, &tableName, &code, &desc); err != nil {
			continue
		}
		d := &Descriptor{
			ID:              id,
			Domain:          domain,
			Name:            name,
			TableSchema:     schema,
			TableName:       tableName,
			TableColumnID:   c.fields.dataTableID,
			TableColumnCode: code,
			TableColumnDesc: desc,
			Defined:         true,
			Grouped:         isTruthy(grouped.String),
		}
		if d.Domain == "" {
			d.Fullname = d.Name
		} else {
			d.Fullname = d.Domain + "." + d.Name
		}
		if d.Grouped {
			if d.TableColumnID == "" {
				d.TableColumnID = "CodeTableId"
			}
			if d.TableColumnCode == "" {
				d.TableColumnCode = "CodeValue"
			}
			if d.TableColumnDesc == "" {
				d.TableColumnDesc = "Name"
			}
		}
		c.byName[d.Fullname] = d
	}
	return nil
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Find returns the code->description map for fullname (e.g.
// "ONIX.13"), loading it lazily on first access and creating a
// synthetic, undefined descriptor if fullname is not in the master
// list, matching _codeTableFind. Query errors are swallowed into an
// empty map: a code table never aborts a batch.
func (c *Cache) Find(ctx context.Context, fullname string) map[string]string {
	if err := c.Load(ctx); err != nil {
		_ = err // Load never actually returns an error; kept for API symmetry.
	}

	d := c.descriptor(fullname)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data == nil {
		d.data = c.load(ctx, d)
		c.metrics.IncCodeTableLoad(fullname)
	}
	return d.data
}

func (c *Cache) descriptor(fullname string) *Descriptor {
	c.mu.RLock()
	d, ok := c.byName[fullname]
	c.mu.RUnlock()
	if ok {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.byName[fullname]; ok {
		return d
	}

	domain, name := "", fullname
	if i := strings.LastIndex(fullname, "."); i >= 0 {
		domain, name = fullname[:i], fullname[i+1:]
	}
	d = &Descriptor{
		Domain:   domain,
		Name:     name,
		Fullname: fullname,
		Defined:  false,
		data:     nil,
	}
	c.byName[fullname] = d
	return d
}

// load fetches the code->description rows for a single descriptor,
// grounded on _codeTableLoad. It never returns an error: on any
// failure (unknown db, bad query, undefined descriptor) it returns an
// empty map, matching "ignore exceptions, NEVER FAIL!!!".
func (c *Cache) load(ctx context.Context, d *Descriptor) map[string]string {
	result := map[string]string{}
	if !d.Defined || c.fields.dbName == "" {
		return result
	}

	qualified := d.TableName
	if d.TableSchema != "" {
		qualified = d.TableSchema + "." + d.TableName
	}

	var query string
	if d.Grouped {
		query = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %d",
			d.TableColumnCode, d.TableColumnDesc, qualified, d.TableColumnID, d.ID)
	} else {
		query = fmt.Sprintf("SELECT %s, %s FROM %s", d.TableColumnCode, d.TableColumnDesc, qualified)
	}

	rows, err := c.q.QueryContext(ctx, c.fields.dbName, query)
	if err != nil {
		return result
	}
	defer rows.Close()

	for rows.Next() {
		var code, desc sql.NullString
		if err := rows.Scan(&code, &desc); err != nil {
			continue
		}
		result[code.String] = desc.String
	}
	return result
}

// List returns the fullnames of every descriptor currently in the
// cache, matching codeTableList().
func (c *Cache) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	return out
}

// Translate applies a translation description (attribute name -> list
// name, e.g. {"field1": "ONIX.13"}) to row, adding "<attr>._list" and
// "<attr>._desc" siblings for every attribute present in row, matching
// translator.translate. A code with no entry in the list's data
// translates to itself, matching "value if value not in trans else
// trans[value]".
func Translate(ctx context.Context, cache *Cache, desc value.Value, row value.Value) value.Value {
	if desc.IsNull() || row.IsNull() {
		return row
	}
	for _, attr := range desc.Keys() {
		listNameV, _ := desc.Get(attr)
		listName := listNameV.String()

		v, ok := row.Get(attr)
		if !ok {
			continue
		}
		trans := cache.Find(ctx, listName)

		row.Set(attr+"._list", value.String(listName))
		code := v.String()
		if translated, ok := trans[code]; ok {
			row.Set(attr+"._desc", value.String(translated))
		} else {
			row.Set(attr+"._desc", v)
		}
	}
	return row
}

// TranslateRows applies Translate to every row of a sequence Value, or
// to data directly if it is a single map, matching the dispatch in
// codetables.translate() on types.DictType vs types.ListType.
func TranslateRows(ctx context.Context, cache *Cache, desc value.Value, data value.Value) value.Value {
	if desc.IsNull() || data.IsNull() {
		return data
	}
	if data.Kind() == value.KindSeq {
		rows := data.Seq()
		out := make([]value.Value, len(rows))
		for i, row := range rows {
			out[i] = Translate(ctx, cache, desc, row)
		}
		return value.Seq(out...)
	}
	return Translate(ctx, cache, desc, data)
}
