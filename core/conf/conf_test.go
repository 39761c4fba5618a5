package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	c := New(map[string]interface{}{
		"lock": true,
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": float64(1),
			},
		},
		"x.y": "literal",
		"x": map[string]interface{}{
			"y": "nested",
		},
	})

	assert.Equal(t, true, c.Get("lock"))
	assert.Equal(t, float64(1), c.Get("a.b.c"))
	assert.Nil(t, c.Get("a.b.missing"))
	assert.Nil(t, c.Get("missing"))

	// a literal key wins over the dotted descent
	assert.Equal(t, "literal", c.Get("x.y"))
}

func TestSub(t *testing.T) {
	c := New(map[string]interface{}{
		"servers": map[string]interface{}{
			"vhosts": map[string]interface{}{"lock": true},
		},
	})
	sub := c.Sub("servers.vhosts")
	assert.True(t, sub.Bool("lock", false))
	assert.Equal(t, Conf{}, c.Sub("servers.missing"))
	assert.Equal(t, c, c.Sub(""))
}

func TestTypedAccessors(t *testing.T) {
	c := New(map[string]interface{}{
		"name": "napix",
		"port": float64(8002),
		"on":   true,
	})
	assert.Equal(t, "napix", c.String("name", "other"))
	assert.Equal(t, "other", c.String("missing", "other"))
	assert.Equal(t, 8002, c.Int("port", 0))
	assert.Equal(t, 42, c.Int("name", 42))
	assert.True(t, c.Bool("on", false))
	assert.False(t, c.Bool("missing", false))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{
		"#comment": "ignored",
		"servers": {
			"#doc": "also ignored",
			"lock": true
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, c.Get("#comment"))
	assert.Nil(t, c.Get("servers.#doc"))
	assert.True(t, c.Bool("servers.lock", false))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))
	_, err = Load(path)
	assert.Error(t, err)
}
