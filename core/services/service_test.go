package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napix-io/napixd/core/conf"
	"github.com/napix-io/napixd/core/managers"
)

type noopManager struct{}

func descriptor(name string, managed managers.Managed) *managers.Descriptor {
	return managers.MustNew(managers.Definition{
		Name:    name,
		Fields:  []managers.Field{{Name: "name", Example: "x"}},
		Managed: managed,
		New:     func(parent managers.Parent) managers.Manager { return &noopManager{} },
	})
}

func TestServiceTree(t *testing.T) {
	vhosts := descriptor("vhosts", managers.Managed{})
	servers := descriptor("servers", managers.Many(vhosts))

	s, err := NewService(&Builder{Root: servers})
	require.NoError(t, err)

	root := s.Root()
	assert.Equal(t, "/servers/", root.CollectionPattern())
	assert.Equal(t, "/servers/{f0}", root.ResourcePattern())
	assert.Equal(t, 0, root.Depth())

	require.Len(t, root.children, 1)
	child := root.children[0]
	assert.Equal(t, "vhosts", child.Name())
	assert.Equal(t, "/servers/{f0}/vhosts/", child.CollectionPattern())
	assert.Equal(t, "/servers/{f0}/vhosts/{f1}", child.ResourcePattern())
	assert.Equal(t, 1, child.Depth())
	assert.Equal(t, "servers/vhosts", child.path)
}

func TestServiceTreeSingleChild(t *testing.T) {
	// a 1:1 managed class mounts without its own name segment
	details := descriptor("details", managers.Managed{})
	hosts := descriptor("hosts", managers.One(details))

	s, err := NewService(&Builder{Root: hosts})
	require.NoError(t, err)

	child := s.Root().children[0]
	assert.Equal(t, "/hosts/{f0}/", child.CollectionPattern())
	assert.Equal(t, "/hosts/{f0}/{f1}", child.ResourcePattern())
}

func TestServiceConfSubtree(t *testing.T) {
	vhosts := descriptor("vhosts", managers.Managed{})
	servers := descriptor("servers", managers.Many(vhosts))

	cfg := conf.New(map[string]interface{}{
		"servers": map[string]interface{}{
			"root": "/srv",
			"vhosts": map[string]interface{}{
				"lock": true,
			},
		},
	})
	s, err := NewService(&Builder{Root: servers, Conf: cfg})
	require.NoError(t, err)

	root := s.Root()
	assert.Equal(t, "/srv", root.conf.String("root", ""))
	assert.Nil(t, root.lock)

	child := root.children[0]
	assert.True(t, child.conf.Bool("lock", false))
	assert.NotNil(t, child.lock)
}

func TestServiceRequiresRoot(t *testing.T) {
	_, err := NewService(&Builder{})
	assert.Error(t, err)
	assert.Panics(t, func() { MustNewService(&Builder{}) })
}

func TestCollectionURL(t *testing.T) {
	servers := descriptor("servers", managers.Managed{})
	s := MustNewService(&Builder{Root: servers})
	assert.Equal(t, "/servers/", s.CollectionURL())
}
