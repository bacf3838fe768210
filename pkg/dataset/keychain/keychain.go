// Package keychain implements password lookup for the connection broker.
// It is deliberately small: the dataset engine treats passwords as opaque
// strings handed to it by configuration, grounded on
// config.keychain.fetch(dbconf["password"]) in the original source. Only
// the "clear" algorithm is implemented; callers needing stronger handling
// should swap in their own Keychain implementation (the interface is the
// contract, not this package).
package keychain

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keychain resolves an opaque password reference to its actual value.
type Keychain interface {
	Fetch(key string) (string, error)
}

// Clear is a Keychain backed by a YAML document mapping key names to
// cleartext values, matching the "alg_clear" algorithm of the original
// keychain file format. A value not in "keychain:<name>:<field>" form is
// returned unchanged, matching the original's passthrough behavior.
type Clear struct {
	entries map[string]map[string]string
}

// NewClear parses a keychain YAML document of the form:
//
//	somename:
//	  algorithm: clear
//	  data:
//	    somefield: secretvalue
func NewClear(raw []byte) (*Clear, error) {
	var doc map[string]struct {
		Algorithm string            `yaml:"algorithm"`
		Data      map[string]string `yaml:"data"`
	}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("keychain: parse: %w", err)
		}
	}
	entries := make(map[string]map[string]string, len(doc))
	for name, e := range doc {
		if e.Algorithm != "" && e.Algorithm != "clear" {
			return nil, fmt.Errorf("keychain: key %q uses unsupported algorithm %q", name, e.Algorithm)
		}
		entries[name] = e.Data
	}
	return &Clear{entries: entries}, nil
}

// Empty returns a Clear keychain with no entries, useful in tests and as a
// default when no keychain file is configured.
func Empty() *Clear {
	return &Clear{entries: map[string]map[string]string{}}
}

// Fetch resolves key. Keys not shaped like "keychain:name:field" pass
// through unchanged.
func (c *Clear) Fetch(key string) (string, error) {
	if !strings.HasPrefix(key, "keychain:") {
		return key, nil
	}
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("keychain: key %q is not a valid keychain reference", key)
	}
	name, field := parts[1], parts[2]
	data, ok := c.entries[name]
	if !ok {
		return "", fmt.Errorf("keychain: key %q not found", name)
	}
	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("keychain: field %q not found under key %q", field, name)
	}
	return value, nil
}
