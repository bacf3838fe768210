package hook

import (
	"testing"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

func TestRegisterAndLookupProcedure(t *testing.T) {
	RegisterProcedure("hooktest.echo", func(entityType, datasetName string, idList []int64) (map[int64]value.Value, error) {
		out := map[int64]value.Value{}
		for _, id := range idList {
			out[id] = value.Int(id)
		}
		return out, nil
	})

	fn, err := Procedures.Lookup("hooktest.echo")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	out, err := fn("PROD", "ds", []int64{1, 2})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out[1].Int() != 1 || out[2].Int() != 2 {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestLookupRejectsMalformedName(t *testing.T) {
	if _, err := Procedures.Lookup("nodothook"); err == nil {
		t.Fatalf("expected ConfigurationError")
	}
}

func TestLookupUnregisteredNameErrors(t *testing.T) {
	if _, err := Posts.Lookup("nosuchmodule.nosuchfunc"); err == nil {
		t.Fatalf("expected UnknownHook error")
	}
}
