/*Package directory implements a registry of running service instances.

Instances announce themselves with POST and refresh their entry with
PUT. Entries age: an instance that has not refreshed for one period is
WAITING, after ten periods it is LOST and eventually forgotten. The
entries live in a key-value store, so a restart does not lose the
directory.
*/
package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/conf"
	"github.com/napix-io/napixd/core/managers"
	"github.com/napix-io/napixd/store"
)

// Tick is the expected announce period of an instance.
const Tick = 300 * time.Second

// instance states derived from the age of the last announce
const (
	StatusOK      = "OK"
	StatusWaiting = "WAITING"
	StatusLost    = "LOST"
)

// NewDescriptor registers the directory manager on the given storage
// backend.
func NewDescriptor(backend store.Backend) *managers.Descriptor {
	return managers.MustNew(managers.Definition{
		Name: "directory",
		Doc:  "Keep a list of managed service instances",
		Fields: []managers.Field{
			{
				Name:    "service",
				Example: "dns.enix",
				Extra:   map[string]interface{}{"description": "The service name of this instance"},
			},
			{
				Name:    "host",
				Example: "server.napix.io",
				Extra:   map[string]interface{}{"description": "The server that hosts the instance"},
			},
			{
				Name:    "managers",
				Example: []interface{}{"directory"},
				Extra:   map[string]interface{}{"description": "the list of managers"},
			},
			{
				Name:       "last_seen",
				Computed:   true,
				Type:       managers.TypeInt,
				Serializer: serializeEpoch,
				Extra:      map[string]interface{}{"description": "The last time it was seen"},
			},
			{
				Name:     "status",
				Computed: true,
				Example:  StatusOK,
				Choices:  []interface{}{StatusOK, StatusWaiting, StatusLost},
				Extra: map[string]interface{}{
					"description": "OK if this server has notified recently, " +
						"WAITING if it is late of less than a period, " +
						"LOST after for ten periods",
				},
			},
			{
				Name:     "description",
				Example:  "This server is the services index.",
				Optional: true,
				Extra:    map[string]interface{}{"description": "Human readable description of the server"},
			},
			{
				Name:    "uid",
				Example: "2550ba7b-aec4-4a67-8047-2ce1ec8ca8ae",
				Extra:   map[string]interface{}{"description": "A Universal Unique IDentifier"},
			},
		},
		Validators: map[string]managers.FieldValidator{
			"service":  managers.Chain(managers.NotEmpty, managers.Strip, managers.SingleLined),
			"host":     managers.Chain(managers.NotEmpty, managers.Strip, managers.SingleLined),
			"managers": listOfStrings,
			"uid":      managers.IsUUID,
		},
		New: func(parent managers.Parent) managers.Manager {
			return &Manager{backend: backend, now: time.Now}
		},
	})
}

// listOfStrings accepts only a list of manager names.
var listOfStrings = managers.FieldValidator{
	Doc: "The value must be a list of manager names",
	Validate: func(m managers.Manager, value interface{}) (interface{}, error) {
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("managers should be a list of strings")
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return nil, fmt.Errorf("managers should be a list of strings")
			}
		}
		return list, nil
	},
}

func serializeEpoch(value interface{}) interface{} {
	if f, ok := value.(float64); ok {
		return int64(f)
	}
	return value
}

// Manager is the per-request directory manager.
type Manager struct {
	backend store.Backend
	store   store.Store
	now     func() time.Time
}

// Configure opens the backing store. The collection name defaults to
// "directory".
func (m *Manager) Configure(cfg conf.Conf) error {
	s, err := m.backend.Open(cfg.String("store", "directory"))
	if err != nil {
		return err
	}
	m.store = s
	return nil
}

func (m *Manager) lastSeen(resource map[string]interface{}) time.Time {
	switch v := resource["last_seen"].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}

// ListResources returns the registered instance ids. Instances lost for
// more than ten periods are purged on the way.
func (m *Manager) ListResources() ([]interface{}, error) {
	keys, err := m.store.Keys()
	if err != nil {
		return nil, err
	}
	dirty := false
	alive := []interface{}{}
	for _, key := range keys {
		value, err := m.store.Get(key)
		if err != nil {
			return nil, err
		}
		resource, ok := value.(map[string]interface{})
		if !ok || m.now().Sub(m.lastSeen(resource)) > 10*Tick {
			if err := m.store.Delete(key); err != nil {
				return nil, err
			}
			dirty = true
			continue
		}
		alive = append(alive, key)
	}
	if dirty {
		if err := m.store.Save(); err != nil {
			return nil, err
		}
	}
	return alive, nil
}

// GetResource returns one instance with its computed status. An
// instance lost for more than ten periods is forgotten and reported as
// not found.
func (m *Manager) GetResource(id interface{}) (map[string]interface{}, error) {
	key := fmt.Sprint(id)
	value, err := m.store.Get(key)
	if store.IsKeyError(err) {
		return nil, core.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	stored, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("directory entry `%s` is corrupted", key)
	}
	// buffered stores hand out the shared map; the computed status goes
	// on a copy so concurrent reads never write to it and the status is
	// never persisted
	resource := make(map[string]interface{}, len(stored)+1)
	for name, field := range stored {
		resource[name] = field
	}
	periods := float64(m.now().Sub(m.lastSeen(resource))) / float64(Tick)
	switch {
	case periods <= 1:
		resource["status"] = StatusOK
	case periods <= 2:
		resource["status"] = StatusWaiting
	case periods <= 10:
		resource["status"] = StatusLost
	default:
		if err := m.store.Delete(key); err != nil {
			return nil, err
		}
		if err := m.store.Save(); err != nil {
			return nil, err
		}
		return nil, core.NotFound(id)
	}
	return resource, nil
}

// CreateResource registers an instance. The id derives from the host,
// with ':' mapped to '-' so the id stays a valid path segment.
func (m *Manager) CreateResource(resource map[string]interface{}) (interface{}, error) {
	id := strings.ReplaceAll(resource["host"].(string), ":", "-")
	if _, err := m.store.Get(id); err == nil {
		return nil, core.Duplicate(id)
	} else if !store.IsKeyError(err) {
		return nil, err
	}
	resource["last_seen"] = float64(m.now().Unix())
	if err := m.store.Set(id, resource); err != nil {
		return nil, err
	}
	if err := m.store.Save(); err != nil {
		return nil, err
	}
	return id, nil
}

// ModifyResource refreshes an instance announce.
func (m *Manager) ModifyResource(res *managers.Wrapper, resource map[string]interface{}) (interface{}, error) {
	resource["last_seen"] = float64(m.now().Unix())
	key := fmt.Sprint(res.ID)
	if err := m.store.Set(key, resource); err != nil {
		return nil, err
	}
	if err := m.store.Save(); err != nil {
		return nil, err
	}
	return nil, nil
}

// DeleteResource unregisters an instance.
func (m *Manager) DeleteResource(res *managers.Wrapper) error {
	key := fmt.Sprint(res.ID)
	err := m.store.Delete(key)
	if store.IsKeyError(err) {
		return core.NotFound(res.ID)
	}
	if err != nil {
		return err
	}
	return m.store.Save()
}
