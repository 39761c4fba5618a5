package managers

import (
	"fmt"
	"math"

	"github.com/xeipuuv/gojsonschema"

	"github.com/napix-io/napixd/core"
)

// Type is the semantic type of a resource field. The names follow the
// wire protocol of the original service, so validation error messages
// stay compatible with existing clients.
type Type string

// all field types
const (
	TypeString  Type = "str"
	TypeInt     Type = "int"
	TypeFloat   Type = "float"
	TypeBool    Type = "bool"
	TypeList    Type = "list"
	TypeMapping Type = "dict"
)

// wireName is the name exposed in the _napix_resource_fields schema.
func (t Type) wireName() string {
	if t == TypeString {
		return "string"
	}
	return string(t)
}

// TypeOf derives the field type of a value. JSON numbers arrive as
// float64; integral values count as int.
func TypeOf(value interface{}) (Type, bool) {
	switch v := value.(type) {
	case string:
		return TypeString, true
	case bool:
		return TypeBool, true
	case int, int32, int64:
		return TypeInt, true
	case float64:
		if v == math.Trunc(v) {
			return TypeInt, true
		}
		return TypeFloat, true
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return TypeInt, true
		}
		return TypeFloat, true
	case map[string]interface{}:
		return TypeMapping, true
	case []interface{}, []string:
		return TypeList, true
	}
	return "", false
}

// matches reports whether a decoded JSON value satisfies the type.
func (t Type) matches(value interface{}) bool {
	got, ok := TypeOf(value)
	if !ok {
		return false
	}
	if got == t {
		return true
	}
	// any number is acceptable where a float is expected
	return t == TypeFloat && got == TypeInt
}

// Typing selects between static and dynamic type enforcement.
type Typing string

// typing modes; static enforces the field type at validation time,
// dynamic skips the check.
const (
	Static  Typing = "static"
	Dynamic Typing = "dynamic"
)

// Transform converts a field value on its way in or out of the wire
// representation.
type Transform func(value interface{}) interface{}

// Field declares a single resource field of a manager schema.
type Field struct {
	// Name identifies the field, unique within a schema.
	Name string
	// Example is a JSON-representable example value. Mandatory unless
	// Computed and Type are both set.
	Example interface{}
	// Type is the semantic type. Derived from Example when empty.
	Type Type
	// Typing selects static or dynamic type checking, default static.
	Typing Typing
	// Optional marks a field that may be absent from input.
	Optional bool
	// Computed marks a field produced by the manager; it is never
	// accepted as input.
	Computed bool
	// ReadOnly marks a field that cannot be changed after creation.
	// Computed implies ReadOnly.
	ReadOnly bool
	// DefaultOnNull forwards nil to the field validator when the field
	// is absent, so the validator can generate a default.
	DefaultOnNull bool
	// Choices enumerates the accepted values, when set.
	Choices []interface{}
	// Schema is an optional JSON-Schema document the value must satisfy.
	Schema string
	// Unserializer and Serializer bracket wire I/O, identity by default.
	Unserializer Transform
	Serializer   Transform
	// Extra is opaque metadata (description, display_order, ...) passed
	// through to clients verbatim.
	Extra map[string]interface{}
}

// resourceField is the compiled form of a Field declaration.
type resourceField struct {
	name          string
	example       interface{}
	typ           Type
	dynamic       bool
	optional      bool
	computed      bool
	editable      bool
	defaultOnNull bool
	choices       []interface{}
	schema        *gojsonschema.Schema
	unserialize   Transform
	serialize     Transform
	extra         map[string]interface{}
}

func (f *resourceField) required() bool {
	return !(f.optional || f.computed)
}

// checkType reports whether the value satisfies the field type. It always
// passes for dynamic typing, and for nil with DefaultOnNull.
func (f *resourceField) checkType(value interface{}) bool {
	if value == nil && f.defaultOnNull {
		return true
	}
	if f.dynamic {
		return true
	}
	return f.typ.matches(value)
}

func compileField(def Field) (*resourceField, error) {
	if def.Name == "" {
		return nil, &core.FieldConfigError{Field: "?", Reason: "missing field name"}
	}
	f := &resourceField{
		name:          def.Name,
		example:       def.Example,
		optional:      def.Optional,
		computed:      def.Computed,
		editable:      !def.Computed && !def.ReadOnly,
		defaultOnNull: def.DefaultOnNull,
		choices:       def.Choices,
		unserialize:   def.Unserializer,
		serialize:     def.Serializer,
		extra:         def.Extra,
	}
	if f.unserialize == nil {
		f.unserialize = func(v interface{}) interface{} { return v }
	}
	if f.serialize == nil {
		f.serialize = func(v interface{}) interface{} { return v }
	}

	if def.Example == nil && (!def.Computed || def.Type == "") {
		return nil, &core.FieldConfigError{Field: def.Name, Reason: "missing example"}
	}

	switch def.Typing {
	case "", Static:
		f.dynamic = false
	case Dynamic:
		f.dynamic = true
	default:
		return nil, &core.FieldConfigError{Field: def.Name, Reason: `typing must be one of "static", "dynamic"`}
	}

	f.typ = def.Type
	if f.typ == "" {
		derived, ok := TypeOf(def.Example)
		if !ok {
			return nil, &core.FieldConfigError{Field: def.Name, Reason: fmt.Sprintf("cannot derive type from example %v", def.Example)}
		}
		f.typ = derived
	}
	switch f.typ {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeList, TypeMapping:
	default:
		return nil, &core.FieldConfigError{Field: def.Name, Reason: fmt.Sprintf("unknown type %q", f.typ)}
	}
	if !f.dynamic && !f.computed && def.Example != nil && !f.typ.matches(def.Example) {
		return nil, &core.FieldConfigError{Field: def.Name, Reason: fmt.Sprintf("example is not of type %s", f.typ)}
	}

	if def.Schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.Schema))
		if err != nil {
			return nil, &core.FieldConfigError{Field: def.Name, Reason: fmt.Sprintf("bad JSON schema: %v", err)}
		}
		f.schema = schema
	}
	return f, nil
}

// validate runs the full per-field pipeline: type check, choices, JSON
// schema, then the registered field validator.
func (f *resourceField) validate(m Manager, value interface{}, validator *FieldValidator) (interface{}, error) {
	if !f.checkType(value) {
		got, _ := TypeOf(value)
		if got == "" {
			got = Type(fmt.Sprintf("%T", value))
		}
		return nil, core.InvalidField(f.name, fmt.Sprintf(
			"Bad type: %s has type %s but should be %s", f.name, got, f.typ))
	}
	if value != nil && len(f.choices) > 0 && !contains(f.choices, value) {
		return nil, core.InvalidField(f.name, fmt.Sprintf("%v is not one of the valid choices", value))
	}
	if value != nil && f.schema != nil {
		result, err := f.schema.Validate(gojsonschema.NewGoLoader(value))
		if err != nil {
			return nil, core.InvalidField(f.name, err.Error())
		}
		if !result.Valid() {
			return nil, core.InvalidField(f.name, result.Errors()[0].Description())
		}
	}
	if validator != nil && validator.Validate != nil {
		validated, err := validator.Validate(m, value)
		if err != nil {
			return nil, core.InvalidField(f.name, err.Error())
		}
		value = validated
	}
	return value, nil
}

func contains(choices []interface{}, value interface{}) bool {
	want := fmt.Sprintf("%v", value)
	for _, choice := range choices {
		if fmt.Sprintf("%v", choice) == want {
			return true
		}
	}
	return false
}

// describe returns the wire representation of the field for the
// _napix_resource_fields endpoint.
func (f *resourceField) describe(validator *FieldValidator) map[string]interface{} {
	meta := map[string]interface{}{}
	for key, value := range f.extra {
		meta[key] = value
	}
	typing := "static"
	if f.dynamic {
		typing = "dynamic"
	}
	meta["editable"] = f.editable
	meta["optional"] = f.optional
	meta["computed"] = f.computed
	meta["default_on_null"] = f.defaultOnNull
	meta["example"] = f.example
	meta["typing"] = typing
	meta["choices"] = f.choices
	meta["type"] = f.typ.wireName()
	if validator != nil {
		meta["validation"] = validator.Doc
	} else {
		meta["validation"] = ""
	}
	return meta
}

// Fields is the ordered field schema of a manager.
type Fields struct {
	fields []*resourceField
	byName map[string]*resourceField
}

func newFields(defs []Field) (*Fields, error) {
	fs := &Fields{byName: make(map[string]*resourceField, len(defs))}
	for _, def := range defs {
		field, err := compileField(def)
		if err != nil {
			return nil, err
		}
		if _, dup := fs.byName[field.name]; dup {
			return nil, &core.FieldConfigError{Field: field.name, Reason: "duplicate field"}
		}
		fs.fields = append(fs.fields, field)
		fs.byName[field.name] = field
	}
	return fs, nil
}

// Has reports whether the schema declares a field of that name.
func (fs *Fields) Has(name string) bool {
	_, ok := fs.byName[name]
	return ok
}

// Names returns the field names in declaration order.
func (fs *Fields) Names() []string {
	names := make([]string, len(fs.fields))
	for i, f := range fs.fields {
		names[i] = f.name
	}
	return names
}

// Validate checks input against the schema and returns the validated
// resource. With forEdit, the input validates as the modification of an
// existing resource: non-editable fields are dropped. Computed fields are
// always dropped. A missing required field, a static type mismatch or a
// failing field validator raise a *core.ValidationError.
func (fs *Fields) Validate(m Manager, input map[string]interface{}, forEdit bool, validators map[string]FieldValidator) (map[string]interface{}, error) {
	output := map[string]interface{}{}
	for _, field := range fs.fields {
		if field.computed || (forEdit && !field.editable) {
			continue
		}
		value, present := input[field.name]
		if !present {
			if field.defaultOnNull {
				value = nil
			} else if !field.required() {
				continue
			} else {
				return nil, core.InvalidField(field.name, "Required")
			}
		}
		var validator *FieldValidator
		if v, ok := validators[field.name]; ok {
			validator = &v
		}
		validated, err := field.validate(m, value, validator)
		if err != nil {
			return nil, err
		}
		output[field.name] = validated
	}
	return output, nil
}

// Serialize prepares raw for the wire, applying the per-field serializers.
// Keys not declared in the schema are dropped.
func (fs *Fields) Serialize(raw map[string]interface{}) map[string]interface{} {
	dest := map[string]interface{}{}
	for _, field := range fs.fields {
		if value, ok := raw[field.name]; ok {
			dest[field.name] = field.serialize(value)
		}
	}
	return dest
}

// Unserialize extracts the declared fields from raw, applying the
// per-field unserializers.
func (fs *Fields) Unserialize(raw map[string]interface{}) map[string]interface{} {
	dest := map[string]interface{}{}
	for _, field := range fs.fields {
		if value, ok := raw[field.name]; ok {
			dest[field.name] = field.unserialize(value)
		}
	}
	return dest
}

// ExampleResource returns the example resource built from the field
// examples. Computed fields are left out.
func (fs *Fields) ExampleResource() map[string]interface{} {
	example := map[string]interface{}{}
	for _, field := range fs.fields {
		if field.computed {
			continue
		}
		example[field.name] = field.example
	}
	return example
}

// Describe returns the schema object served by _napix_resource_fields.
func (fs *Fields) Describe(validators map[string]FieldValidator) map[string]interface{} {
	schema := map[string]interface{}{}
	for _, field := range fs.fields {
		var validator *FieldValidator
		if v, ok := validators[field.name]; ok {
			validator = &v
		}
		schema[field.name] = field.describe(validator)
	}
	return schema
}
