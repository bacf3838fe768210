package coerce

import (
	"testing"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

func TestCoerceBulkAndPerColumn(t *testing.T) {
	row := value.NewMap()
	row.Set("CoerceBool", value.String("1"))
	row.Set("CoerceDatetime", value.String("2011-12-02T16:34:45.453Z"))
	row.Set("Untouched", value.Null())

	directives := value.NewMap()
	directives.Set("boolean", value.Seq(value.String("CoerceBool")))
	dt := value.NewMap()
	dt.Set("type", value.String("datetime"))
	directives.Set("CoerceDatetime", dt)

	out, err := Coerce("PROD", "texts", row, directives)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, _ := out.Get("CoerceBool")
	if b.Kind() != value.KindBool || !b.Bool() {
		t.Fatalf("expected true, got %v", b.Interface())
	}

	dtv, _ := out.Get("CoerceDatetime")
	if dtv.Kind() != value.KindTime {
		t.Fatalf("expected time kind, got %v", dtv.Kind())
	}
	tm := dtv.Time()
	if tm.Year() != 2011 || tm.Month() != 12 || tm.Day() != 2 || tm.Hour() != 16 || tm.Minute() != 34 || tm.Second() != 45 {
		t.Fatalf("unexpected datetime: %v", tm)
	}
}

func TestCoerceFloatBestModeReturnsOriginalOnFailure(t *testing.T) {
	row := value.NewMap()
	row.Set("CoerceFloat", value.String("abc"))

	directives := value.NewMap()
	spec := value.NewMap()
	spec.Set("type", value.String("float"))
	spec.Set("mode", value.String("best"))
	directives.Set("CoerceFloat", spec)

	out, err := Coerce("PROD", "texts", row, directives)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := out.Get("CoerceFloat")
	if v.String() != "abc" {
		t.Fatalf("expected unchanged 'abc', got %v", v.Interface())
	}
}

func TestCoerceFloatOkOrNoneReturnsNull(t *testing.T) {
	row := value.NewMap()
	row.Set("CoerceFloat", value.String("abc"))

	directives := value.NewMap()
	spec := value.NewMap()
	spec.Set("type", value.String("float"))
	spec.Set("mode", value.String("ok-or-none"))
	directives.Set("CoerceFloat", spec)

	out, err := Coerce("PROD", "texts", row, directives)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := out.Get("CoerceFloat")
	if !v.IsNull() {
		t.Fatalf("expected null, got %v", v.Interface())
	}
}

func TestCoerceUnknownTypeIsConfigurationError(t *testing.T) {
	row := value.NewMap()
	row.Set("Weird", value.String("x"))

	directives := value.NewMap()
	spec := value.NewMap()
	spec.Set("type", value.String("blob"))
	directives.Set("Weird", spec)

	_, err := Coerce("PROD", "texts", row, directives)
	if err == nil {
		t.Fatalf("expected error")
	}
}
