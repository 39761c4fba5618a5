package managers

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napix-io/napixd/core"
)

type nullManager struct{}

func testDefinition() Definition {
	return Definition{
		Name: "things",
		Doc:  "Some things",
		Fields: []Field{
			{Name: "name", Example: "thing"},
		},
		New: func(parent Parent) Manager { return &nullManager{} },
	}
}

func TestNewDescriptor(t *testing.T) {
	d, err := New(testDefinition())
	require.NoError(t, err)
	assert.Equal(t, "things", d.Name())
	assert.Equal(t, "Some things", d.Doc())
	assert.True(t, d.Managed().IsNone())
}

func TestNewDescriptorErrors(t *testing.T) {
	def := testDefinition()
	def.Name = ""
	_, err := New(def)
	assert.Error(t, err)

	def = testDefinition()
	def.New = nil
	_, err = New(def)
	assert.Error(t, err)

	def = testDefinition()
	def.Validators = map[string]FieldValidator{"ghost": {}}
	_, err = New(def)
	assert.Error(t, err)

	def = testDefinition()
	def.Actions = map[string]Action{"poke": {}}
	_, err = New(def)
	assert.Error(t, err)
}

type intIDManager struct{ nullManager }

func (m *intIDManager) ValidateID(id string) (interface{}, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, core.Invalid("id must be an integer")
	}
	return n, nil
}

func TestValidateID(t *testing.T) {
	d := MustNew(testDefinition())

	// without an IDValidator the id passes through
	id, err := d.ValidateID(&nullManager{}, "x12")
	require.NoError(t, err)
	assert.Equal(t, "x12", id)

	id, err = d.ValidateID(&intIDManager{}, "12")
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	_, err = d.ValidateID(&intIDManager{}, "x12")
	require.Error(t, err)
	_, ok := err.(*core.ValidationError)
	assert.True(t, ok)
}

func TestManagedVariants(t *testing.T) {
	child := MustNew(testDefinition())

	none := Managed{}
	assert.True(t, none.IsNone())
	assert.Empty(t, none.All())

	one := One(child)
	single, ok := one.Single()
	assert.True(t, ok)
	assert.Equal(t, child, single)
	assert.Equal(t, []*Descriptor{child}, one.All())

	many := Many(child)
	_, ok = many.Single()
	assert.False(t, ok)
	assert.Equal(t, []*Descriptor{child}, many.All())
}

func TestAction(t *testing.T) {
	def := testDefinition()
	def.Actions = map[string]Action{
		"rename": {
			Doc:    "Rename the thing",
			Fields: []Field{{Name: "to", Example: "new-name"}},
			Run: func(m Manager, res *Wrapper, params map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{"renamed": params["to"]}, nil
			},
		},
	}
	d := MustNew(def)
	assert.Equal(t, []string{"rename"}, d.ActionNames())

	action, ok := d.Action("rename")
	require.True(t, ok)
	assert.Equal(t, "Rename the thing", action.Doc())

	_, err := action.Validate(nil, map[string]interface{}{})
	require.Error(t, err)

	params, err := action.Validate(nil, map[string]interface{}{"to": "other"})
	require.NoError(t, err)
	result, err := action.Run(nil, &Wrapper{}, params)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"renamed": "other"}, result)
}

func TestFormatter(t *testing.T) {
	def := testDefinition()
	def.Formats = map[string]Formatter{
		"text": func(w http.ResponseWriter, res *Wrapper) error {
			_, err := w.Write([]byte("thing"))
			return err
		},
	}
	d := MustNew(def)
	assert.Equal(t, []string{"text"}, d.FormatNames())

	_, ok := d.Formatter("text")
	assert.True(t, ok)
	_, ok = d.Formatter("xml")
	assert.False(t, ok)
}
