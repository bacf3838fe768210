// Package coerce implements best-effort type coercion of loosely-typed
// column values, ported from ecommerce.db.dataset.coercion. Coercion only
// runs when the owning database reports LooseTypes; callers are expected to
// gate the call on that flag themselves (the dataset solver does).
package coerce

import (
	"strconv"
	"strings"
	"time"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/dserror"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/iso8601"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// Mode selects what happens when a coercion fails.
type Mode string

const (
	ModeBest      Mode = "best"
	ModeOkOrNone  Mode = "ok-or-none"
	ModeOkOrNull  Mode = "ok-or-null"
	ModeOkOrFail  Mode = "ok-or-fail"
)

type coerceFunc func(v value.Value, mode Mode, entity, dataset string) (value.Value, error)

// typeFuncs is the closed set of supported coercion targets. Dynamic
// dispatch over a type name becomes a static map lookup instead of
// reflection or method-name dispatch.
var typeFuncs = map[string]coerceFunc{
	"bool":     coerceBool,
	"boolean":  coerceBool,
	"int":      coerceInt,
	"integer":  coerceInt,
	"long":     coerceInt,
	"float":    coerceFloat,
	"double":   coerceFloat,
	"string":   coerceString,
	"str":      coerceString,
	"date":     coerceDate,
	"datetime": coerceDatetime,
	"time":     coerceTime,
}

func handleMode(v value.Value, typ string, mode Mode, entity, dataset string) (value.Value, error) {
	switch mode {
	case ModeOkOrFail:
		return value.Null(), &dserror.RuntimeError{
			Entity: entity, Dataset: dataset,
			Msg: "cannot coerce value [" + v.String() + "] to type [" + typ + "]",
		}
	case ModeOkOrNone, ModeOkOrNull:
		return value.Null(), nil
	default:
		return v, nil
	}
}

func coerceBool(v value.Value, mode Mode, entity, dataset string) (value.Value, error) {
	switch v.Kind() {
	case value.KindBool:
		return v, nil
	case value.KindInt:
		if v.Int() == 1 {
			return value.Bool(true), nil
		}
		if v.Int() == 0 {
			return value.Bool(false), nil
		}
	case value.KindString:
		switch strings.ToLower(v.String()) {
		case "1", "true", "yes":
			return value.Bool(true), nil
		case "0", "false", "no":
			return value.Bool(false), nil
		}
	}
	return handleMode(v, "boolean", mode, entity, dataset)
}

func coerceInt(v value.Value, mode Mode, entity, dataset string) (value.Value, error) {
	switch v.Kind() {
	case value.KindInt:
		return v, nil
	case value.KindFloat:
		return value.Int(int64(v.Float())), nil
	case value.KindString:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64); err == nil {
			return value.Int(n), nil
		}
	}
	return handleMode(v, "int", mode, entity, dataset)
}

func coerceFloat(v value.Value, mode Mode, entity, dataset string) (value.Value, error) {
	switch v.Kind() {
	case value.KindFloat:
		return v, nil
	case value.KindInt:
		return value.Float(float64(v.Int())), nil
	case value.KindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64); err == nil {
			return value.Float(f), nil
		}
	}
	return handleMode(v, "float", mode, entity, dataset)
}

func coerceString(v value.Value, _ Mode, _, _ string) (value.Value, error) {
	// stringification always succeeds.
	return value.String(v.String()), nil
}

func coerceDate(v value.Value, mode Mode, entity, dataset string) (value.Value, error) {
	parts, ok := iso8601.ParseDatetime(v.String())
	if !ok || parts.Year == nil || parts.Month == nil || parts.Day == nil {
		return handleMode(v, "date", mode, entity, dataset)
	}
	return value.Time(time.Date(*parts.Year, time.Month(*parts.Month), *parts.Day, 0, 0, 0, 0, time.UTC)), nil
}

func coerceDatetime(v value.Value, mode Mode, entity, dataset string) (value.Value, error) {
	parts, ok := iso8601.ParseDatetime(v.String())
	if !ok || parts.Year == nil || parts.Month == nil || parts.Day == nil {
		return handleMode(v, "datetime", mode, entity, dataset)
	}
	hour, minute, second, fraction := 0, 0, 0, 0
	if parts.Hour != nil {
		hour = *parts.Hour
	}
	if parts.Minute != nil {
		minute = *parts.Minute
	}
	if parts.Second != nil {
		second = *parts.Second
	}
	if parts.Fraction != nil {
		fraction = *parts.Fraction
	}
	// Timezone is parsed but never applied: the result is a naive
	// wall-clock value, per the documented open question.
	t := time.Date(*parts.Year, time.Month(*parts.Month), *parts.Day,
		hour, minute, second, fraction*1000, time.UTC)
	return value.Time(t), nil
}

func coerceTime(v value.Value, mode Mode, entity, dataset string) (value.Value, error) {
	parts, ok := iso8601.ParseTime(v.String())
	if !ok || parts.Hour == nil {
		return handleMode(v, "time", mode, entity, dataset)
	}
	minute, second, fraction := 0, 0, 0
	if parts.Minute != nil {
		minute = *parts.Minute
	}
	if parts.Second != nil {
		second = *parts.Second
	}
	if parts.Fraction != nil {
		fraction = *parts.Fraction
	}
	t := time.Date(0, 1, 1, *parts.Hour, minute, second, fraction*1000, time.UTC)
	return value.Time(t), nil
}

// Directive is one entry of a query.coerce mapping: either a bulk directive
// (Type is the bulk key, Mode is always best) or a per-column directive
// (Type + Mode explicit).
type Directive struct {
	Type string
	Mode Mode
}

// Coerce applies the coercion directives to row in place and returns it.
// directives is the raw recipe query.coerce mapping: each key is either a
// bulk type name (value is a sequence of column names, mode is always
// "best") or a column name (value is a map with "type"/"mode").
func Coerce(entity, dataset string, row value.Value, directives value.Value) (value.Value, error) {
	if row.IsNull() || directives.IsNull() {
		return row, nil
	}

	for _, key := range directives.Keys() {
		spec, _ := directives.Get(key)

		if _, isBulk := typeFuncs[key]; isBulk {
			cols := spec
			for _, item := range cols.Seq() {
				col := item.String()
				v, ok := row.Get(col)
				if !ok || v.IsNull() {
					continue
				}
				coerced, err := typeFuncs[key](v, ModeBest, entity, dataset)
				if err != nil {
					return row, err
				}
				row.Set(col, coerced)
			}
			continue
		}

		// per-column directive
		v, ok := row.Get(key)
		if !ok || v.IsNull() {
			continue
		}
		typ := "string"
		if t, ok := spec.Get("type"); ok {
			typ = t.String()
		}
		fn, ok := typeFuncs[typ]
		if !ok {
			return row, &dserror.ConfigurationError{
				Entity: entity, Dataset: dataset,
				Msg: "type [" + typ + "] is unknown, don't know how to coerce",
			}
		}
		mode := ModeBest
		if m, ok := spec.Get("mode"); ok {
			mode = Mode(m.String())
		}
		coerced, err := fn(v, mode, entity, dataset)
		if err != nil {
			return row, err
		}
		row.Set(key, coerced)
	}

	return row, nil
}
