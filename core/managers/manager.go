// Package managers defines the manager contract of napixd.
//
// A manager describes one level of a resource collection: a declarative
// field schema, a factory for per-request instances, and a set of
// verb-like operations. Operations are optional; the instance interfaces
// below gate which HTTP verbs a collection advertises.
//
// Managers are registered as a Descriptor built from a Definition. The
// descriptor holds everything that the original, reflection-driven
// implementation discovered by attribute name: the schema, the field
// validators, the custom actions and the resource formatters.
package managers

import (
	"net/http"
	"net/url"

	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/conf"
)

// Parent is the resolved parent resource handed to a manager factory.
// It is nil for the root manager of a service.
type Parent map[string]interface{}

// Manager is a per-request manager instance. The concrete type
// implements a subset of the operation interfaces below.
type Manager interface{}

// Lister lists the ids of the collection. Enables GET and HEAD on the
// collection URL.
type Lister interface {
	ListResources() ([]interface{}, error)
}

// Getter fetches one resource by its typed id. Enables GET and HEAD on
// the resource URL, and is required to resolve parent chains.
type Getter interface {
	GetResource(id interface{}) (map[string]interface{}, error)
}

// Creator creates a resource from a validated body and returns the new
// id. Enables POST on the collection URL.
type Creator interface {
	CreateResource(resource map[string]interface{}) (interface{}, error)
}

// Modifier modifies an existing resource with a validated body. A non-nil
// returned id moves the resource. Enables PUT on the resource URL.
type Modifier interface {
	ModifyResource(res *Wrapper, resource map[string]interface{}) (interface{}, error)
}

// Deleter deletes a resource. Enables DELETE on the resource URL.
type Deleter interface {
	DeleteResource(res *Wrapper) error
}

// IDValidator converts the raw id path segment into its typed form. A
// malformed id must raise a *core.ValidationError. Managers without it
// accept any string id.
type IDValidator interface {
	ValidateID(id string) (interface{}, error)
}

// Filterer lists ids restricted by query parameters.
type Filterer interface {
	ListResourcesFilter(params url.Values) ([]interface{}, error)
}

// AllGetter returns id and resource pairs for the whole collection,
// serving GET ?getall.
type AllGetter interface {
	GetAllResources() ([]IDResource, error)
}

// AllFilterer returns id and resource pairs restricted by query
// parameters, serving GET ?getall with extra parameters.
type AllFilterer interface {
	GetAllResourcesFilter(params url.Values) ([]IDResource, error)
}

// Configurer receives the manager configuration subtree right after
// construction, once per instance.
type Configurer interface {
	Configure(cfg conf.Conf) error
}

// RequestHook brackets the verb invocation. StartRequest runs before the
// operation, EndRequest after it on all exit paths.
type RequestHook interface {
	StartRequest(r *http.Request) error
	EndRequest(r *http.Request)
}

// IDResource pairs a resource with its id, as returned by AllGetter.
type IDResource struct {
	ID       interface{}
	Resource map[string]interface{}
}

// Wrapper pairs a manager instance with a resource id and, when already
// fetched, the resource body, so operations do not refetch.
type Wrapper struct {
	Manager  Manager
	ID       interface{}
	Resource map[string]interface{}
}

// FieldValidator validates and normalizes one field value. Doc is merged
// into the _napix_resource_fields schema as the validation description.
// With DefaultOnNull the value can be nil.
type FieldValidator struct {
	Doc      string
	Validate func(m Manager, value interface{}) (interface{}, error)
}

// Formatter writes a custom representation of a resource, selected with
// the ?format= query parameter.
type Formatter func(w http.ResponseWriter, res *Wrapper) error

// Action is a custom POST verb on a resource, outside the CRUD set. Its
// input is validated against its own field set.
type Action struct {
	Doc    string
	Fields []Field
	Run    func(m Manager, res *Wrapper, params map[string]interface{}) (interface{}, error)
}

// CompiledAction is the compiled form of an Action declaration, with
// its field set ready for validation.
type CompiledAction struct {
	doc    string
	fields *Fields
	run    func(m Manager, res *Wrapper, params map[string]interface{}) (interface{}, error)
}

// Managed is the tagged managed-class variant: none, a single class with
// an implicit 1:1 mount, or many named child collections.
type Managed struct {
	one  *Descriptor
	many []*Descriptor
}

// One mounts a single child manager directly under the parent's id.
func One(d *Descriptor) Managed {
	return Managed{one: d}
}

// Many mounts every child manager under its own name segment.
func Many(ds ...*Descriptor) Managed {
	return Managed{many: ds}
}

// IsNone reports whether there are no managed classes.
func (m Managed) IsNone() bool {
	return m.one == nil && len(m.many) == 0
}

// Single returns the 1:1 managed class, if that variant is set.
func (m Managed) Single() (*Descriptor, bool) {
	return m.one, m.one != nil
}

// All returns the managed classes of either variant.
func (m Managed) All() []*Descriptor {
	if m.one != nil {
		return []*Descriptor{m.one}
	}
	return m.many
}

// Definition declares a manager. It compiles into a Descriptor.
type Definition struct {
	// Name is the URL segment of the collection.
	Name string
	// Doc describes the manager for the _napix_help endpoint.
	Doc string
	// Fields is the resource schema.
	Fields []Field
	// Validators maps field names to their validators.
	Validators map[string]FieldValidator
	// Actions maps action names to custom resource verbs.
	Actions map[string]Action
	// Formats maps format names to resource formatters.
	Formats map[string]Formatter
	// Managed declares the child managers.
	Managed Managed
	// New builds a per-request instance. The parent is nil at the root.
	New func(parent Parent) Manager
}

// Descriptor is a compiled manager registration.
type Descriptor struct {
	name       string
	doc        string
	fields     *Fields
	validators map[string]FieldValidator
	actions    map[string]*CompiledAction
	formats    map[string]Formatter
	managed    Managed
	factory    func(parent Parent) Manager
}

// New compiles a manager definition. A bad field declaration yields a
// *core.FieldConfigError.
func New(def Definition) (*Descriptor, error) {
	if def.Name == "" {
		return nil, &core.FieldConfigError{Field: "?", Reason: "manager has no name"}
	}
	if def.New == nil {
		return nil, &core.FieldConfigError{Field: def.Name, Reason: "manager has no factory"}
	}
	fields, err := newFields(def.Fields)
	if err != nil {
		return nil, err
	}
	for name := range def.Validators {
		if !fields.Has(name) {
			return nil, &core.FieldConfigError{Field: name, Reason: "validator for unknown field"}
		}
	}
	d := &Descriptor{
		name:       def.Name,
		doc:        def.Doc,
		fields:     fields,
		validators: def.Validators,
		actions:    map[string]*CompiledAction{},
		formats:    def.Formats,
		managed:    def.Managed,
		factory:    def.New,
	}
	for name, action := range def.Actions {
		actionFields, err := newFields(action.Fields)
		if err != nil {
			return nil, err
		}
		if action.Run == nil {
			return nil, &core.FieldConfigError{Field: name, Reason: "action has no callback"}
		}
		d.actions[name] = &CompiledAction{
			doc:    action.Doc,
			fields: actionFields,
			run:    action.Run,
		}
	}
	return d, nil
}

// MustNew compiles a manager definition and panics on error. Intended for
// registrations at program startup.
func MustNew(def Definition) *Descriptor {
	d, err := New(def)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the URL segment of the collection.
func (d *Descriptor) Name() string { return d.name }

// Doc returns the manager documentation.
func (d *Descriptor) Doc() string { return d.doc }

// Fields returns the resource schema.
func (d *Descriptor) Fields() *Fields { return d.fields }

// Managed returns the managed-class variant.
func (d *Descriptor) Managed() Managed { return d.managed }

// Spawn builds a per-request manager instance for the given parent
// resource.
func (d *Descriptor) Spawn(parent Parent) Manager {
	return d.factory(parent)
}

// Validate checks a request body against the schema, dispatching to the
// registered field validators.
func (d *Descriptor) Validate(m Manager, input map[string]interface{}, forEdit bool) (map[string]interface{}, error) {
	return d.fields.Validate(m, input, forEdit, d.validators)
}

// ValidateID converts a raw id segment using the instance's IDValidator,
// or returns it unchanged when the manager does not validate ids.
func (d *Descriptor) ValidateID(m Manager, id string) (interface{}, error) {
	if v, ok := m.(IDValidator); ok {
		return v.ValidateID(id)
	}
	return id, nil
}

// Serialize prepares a resource for the wire.
func (d *Descriptor) Serialize(raw map[string]interface{}) map[string]interface{} {
	return d.fields.Serialize(raw)
}

// Unserialize converts a wire body to its internal form, applying the
// per-field unserializers and dropping undeclared keys.
func (d *Descriptor) Unserialize(raw map[string]interface{}) map[string]interface{} {
	return d.fields.Unserialize(raw)
}

// Describe returns the schema served by _napix_resource_fields.
func (d *Descriptor) Describe() map[string]interface{} {
	return d.fields.Describe(d.validators)
}

// ExampleResource returns the example served by _napix_new.
func (d *Descriptor) ExampleResource() map[string]interface{} {
	return d.fields.ExampleResource()
}

// Action returns the named custom action.
func (d *Descriptor) Action(name string) (*CompiledAction, bool) {
	action, ok := d.actions[name]
	return action, ok
}

// ActionNames returns the registered action names.
func (d *Descriptor) ActionNames() []string {
	names := make([]string, 0, len(d.actions))
	for name := range d.actions {
		names = append(names, name)
	}
	return names
}

// Formatter returns the named resource formatter.
func (d *Descriptor) Formatter(name string) (Formatter, bool) {
	f, ok := d.formats[name]
	return f, ok
}

// FormatNames returns the registered format names.
func (d *Descriptor) FormatNames() []string {
	names := make([]string, 0, len(d.formats))
	for name := range d.formats {
		names = append(names, name)
	}
	return names
}

// Validate checks an action body against the action's field set.
func (a *CompiledAction) Validate(m Manager, input map[string]interface{}) (map[string]interface{}, error) {
	return a.fields.Validate(m, input, false, nil)
}

// Run invokes the action callback.
func (a *CompiledAction) Run(m Manager, res *Wrapper, params map[string]interface{}) (interface{}, error) {
	return a.run(m, res, params)
}

// Doc returns the action documentation.
func (a *CompiledAction) Doc() string { return a.doc }
