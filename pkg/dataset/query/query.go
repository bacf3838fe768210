// Package query implements the SQL builder: macro expansion, PK
// predicate synthesis, and the Oracle-9i line-trim contract, grounded
// on solveQuerySQL in dataset/solver.py.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/config"
)

// betweenThreshold caps the span eligible for a BETWEEN predicate;
// beyond it, the #BETWEEN form falls back to the IN form, matching
// "if (maxId - minId) < 1000".
const betweenThreshold = 1000

// Build expands a recipe's query.sql template against idList, matching
// solveQuerySQL. prefix is query.prefix (may be empty); ids are the
// query.id placeholder names; vars are query.var; cfg resolves
// "{{CONFIG:...}}" macros.
func Build(sql, prefix string, ids []string, vars map[string]string, entityType string, idList []int64, cfg *config.Config) string {
	qualifiedPrefix := ""
	if prefix != "" {
		qualifiedPrefix = prefix + "."
	}

	pks := buildPKs(qualifiedPrefix, ids, idList)
	pks["EntityType"] = " " + qualifiedPrefix + "EntityType = '" + entityType + "' "

	return expandMacros(sql, pks, vars, cfg)
}

func buildPKs(qualifiedPrefix string, ids []string, idList []int64) map[string]string {
	pks := map[string]string{}
	if len(ids) == 0 {
		return pks
	}

	strs := make([]string, len(idList))
	for i, id := range idList {
		strs[i] = strconv.FormatInt(id, 10)
	}
	inList := " " + "%s" + " IN (" + strings.Join(strs, ", ") + ") "

	var minID, maxID int64
	if len(idList) > 0 {
		minID, maxID = idList[0], idList[0]
		for _, id := range idList[1:] {
			if id < minID {
				minID = id
			}
			if id > maxID {
				maxID = id
			}
		}
	}

	for _, id := range ids {
		inForm := fmt.Sprintf(inList, qualifiedPrefix+id)
		pks[id] = inForm
		if maxID-minID < betweenThreshold {
			pks[id+"#BETWEEN"] = qualifiedPrefix + id + " BETWEEN " + strconv.FormatInt(minID, 10) + " AND " + strconv.FormatInt(maxID, 10)
		} else {
			pks[id+"#BETWEEN"] = inForm
		}
	}
	return pks
}

// expandMacros replaces every "{{GROUP:VAR}}" occurrence, matching the
// original's find/replace loop: an unterminated "{{" (no matching "}}")
// stops substitution and is left as-is.
func expandMacros(sql string, pks, vars map[string]string, cfg *config.Config) string {
	for {
		start := strings.Index(sql, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(sql[start:], "}}")
		if end == -1 {
			break
		}
		end += start

		token := sql[start+2 : end]
		macro := sql[start : end+2]
		parts := strings.SplitN(token, ":", 2)
		if len(parts) != 2 {
			sql = strings.ReplaceAll(sql, macro, "")
			continue
		}
		group, name := parts[0], parts[1]

		value := ""
		switch group {
		case "ID":
			value = pks[name]
		case "VAR":
			value = vars[name]
		case "CONFIG":
			if cfg != nil {
				if v, ok := cfg.Get(name); ok {
					value = v.String()
				}
			}
		}
		sql = strings.ReplaceAll(sql, macro, value)
	}

	lines := strings.Split(sql, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(l, " \t")
	}
	return strings.Join(lines, "\n")
}
