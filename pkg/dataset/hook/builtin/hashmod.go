// Package builtin registers the example procedure hook used by the
// seed end-to-end scenarios (spec.md §8), grounded on the
// "code.name = hashmod.md5Hash" scenario: a procedure hook that maps
// every id in the batch to the hex MD5 digest of its ASCII decimal
// representation.
package builtin

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/hook"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

func init() {
	hook.RegisterProcedure("hashmod.md5Hash", md5Hash)
}

func md5Hash(_, _ string, idList []int64) (map[int64]value.Value, error) {
	out := make(map[int64]value.Value, len(idList))
	for _, id := range idList {
		sum := md5.Sum([]byte(strconv.FormatInt(id, 10)))
		out[id] = value.String(hex.EncodeToString(sum[:]))
	}
	return out, nil
}
