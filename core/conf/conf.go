// Package conf holds the napixd configuration.
//
// A configuration is a JSON object. Values are accessible by key or by
// dotted path spanning multiple nesting levels:
//
//	c := conf.New(map[string]interface{}{"a": map[string]interface{}{"b": 1}})
//	c.Get("a.b") // 1
//
// Keys starting with '#' are comments and are stripped when loading.
package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Conf is a configuration mapping.
type Conf map[string]interface{}

// New returns a Conf for the given data. A nil map yields an empty Conf.
func New(data map[string]interface{}) Conf {
	if data == nil {
		return Conf{}
	}
	return Conf(data)
}

// Load reads a JSON configuration file.
func Load(path string) (Conf, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("configuration file %s contains a bad JSON object: %w", path, err)
	}
	return New(stripComments(data)), nil
}

func stripComments(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		if strings.HasPrefix(key, "#") {
			continue
		}
		if sub, ok := value.(map[string]interface{}); ok {
			value = stripComments(sub)
		}
		out[key] = value
	}
	return out
}

// Get returns the value at the dotted path, or nil when the path does not
// resolve. A path segment first matches a literal key, then descends.
func (c Conf) Get(path string) interface{} {
	if value, ok := c[path]; ok {
		return value
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil
	}
	sub, ok := c[head].(map[string]interface{})
	if !ok {
		return nil
	}
	return Conf(sub).Get(rest)
}

// Sub returns the configuration subtree at the dotted path, or an empty
// Conf when the path does not resolve to an object.
func (c Conf) Sub(path string) Conf {
	if path == "" {
		return c
	}
	sub, ok := c.Get(path).(map[string]interface{})
	if !ok {
		return Conf{}
	}
	return Conf(sub)
}

// String returns the string at the dotted path, or def.
func (c Conf) String(path, def string) string {
	if s, ok := c.Get(path).(string); ok {
		return s
	}
	return def
}

// Int returns the integer at the dotted path, or def. JSON numbers decode
// as float64 and are truncated.
func (c Conf) Int(path string, def int) int {
	switch n := c.Get(path).(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

// Bool returns the boolean at the dotted path, or def.
func (c Conf) Bool(path string, def bool) bool {
	if b, ok := c.Get(path).(bool); ok {
		return b
	}
	return def
}
