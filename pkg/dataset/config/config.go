// Package config implements the Configuration service contract the dataset
// engine consumes: typed settings addressed by dotted key, grounded on
// ecommerce.config.getConfig()/config.getMulti() in the original source.
package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/value"
)

// Config is an immutable, parsed configuration tree.
type Config struct {
	root value.Value
}

// Parse decodes raw YAML (or JSON, which is a YAML subset) into a Config.
func Parse(raw []byte) (*Config, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &Config{root: value.FromInterface(doc)}, nil
}

// Empty returns a Config with no entries, useful in tests.
func Empty() *Config {
	return &Config{root: value.NewMap()}
}

// Get resolves a dotted key against the tree, e.g. "db.default" or
// "codetables.fields.tableId".
func (c *Config) Get(key string) (value.Value, bool) {
	if c == nil {
		return value.Null(), false
	}
	cur := c.root
	for _, part := range strings.Split(key, ".") {
		v, ok := cur.Get(part)
		if !ok {
			return value.Null(), false
		}
		cur = v
	}
	return cur, true
}

// GetString resolves key and returns its string form, or def if absent.
func (c *Config) GetString(key, def string) string {
	v, ok := c.Get(key)
	if !ok || v.IsNull() {
		return def
	}
	return v.String()
}

// GetBool resolves key as a boolean, or def if absent/unparseable.
func (c *Config) GetBool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok || v.IsNull() {
		return def
	}
	if v.Kind() == value.KindBool {
		return v.Bool()
	}
	b, err := strconv.ParseBool(v.String())
	if err != nil {
		return def
	}
	return b
}

// GetMulti resolves "<prefix>.<key>" and, if absent, falls back to def. It
// mirrors config.getMulti(prefix, key, default) in the original source,
// which is used by both the dataset loader (search paths) and the
// connection broker (per-database settings).
func (c *Config) GetMulti(prefix, key string, def []string) []string {
	v, ok := c.Get(prefix + "." + key)
	if !ok || v.IsNull() {
		return def
	}
	if v.Kind() == value.KindString {
		return []string{v.String()}
	}
	out := make([]string, 0, v.Len())
	for _, item := range v.Seq() {
		out = append(out, item.String())
	}
	return out
}

// Sub returns the subtree rooted at key as its own Config, or an empty one
// if the key is absent. Used to scope per-application or per-database
// overrides, e.g. Sub("db.mydb").
func (c *Config) Sub(key string) *Config {
	v, ok := c.Get(key)
	if !ok {
		return Empty()
	}
	return &Config{root: v}
}

// Keys returns the top-level keys of the subtree rooted at key, sorted by
// name (the parsed document does not keep its original key order).
func (c *Config) Keys(key string) []string {
	v, ok := c.Get(key)
	if !ok || v.Kind() != value.KindMap {
		return nil
	}
	return v.Keys()
}

// GetStringSeq resolves key as a sequence of strings, e.g. "db.databases".
func (c *Config) GetStringSeq(key string) []string {
	v, ok := c.Get(key)
	if !ok || v.Kind() != value.KindSeq {
		return nil
	}
	out := make([]string, 0, v.Len())
	for _, item := range v.Seq() {
		out = append(out, item.String())
	}
	return out
}
