package directory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/conf"
	"github.com/napix-io/napixd/core/managers"
	"github.com/napix-io/napixd/store"
)

func wrapperFor(m *Manager, id interface{}) *managers.Wrapper {
	return &managers.Wrapper{Manager: m, ID: id}
}

func announce() map[string]interface{} {
	return map[string]interface{}{
		"service":  "dns.enix",
		"host":     "server.napix.io:8002",
		"managers": []interface{}{"directory"},
		"uid":      "2550ba7b-aec4-4a67-8047-2ce1ec8ca8ae",
	}
}

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	now := time.Now()
	m := &Manager{backend: backend, now: func() time.Time { return now }}
	require.NoError(t, m.Configure(conf.Conf{}))
	return m, &now
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)
	assert.Equal(t, "server.napix.io-8002", id)

	resource, err := m.GetResource(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resource["status"])
	assert.NotNil(t, resource["last_seen"])
}

func TestGetDoesNotTouchStoredEntry(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)

	resource, err := m.GetResource(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resource["status"])

	stored, err := m.store.Get(id.(string))
	require.NoError(t, err)
	assert.NotContains(t, stored.(map[string]interface{}), "status")
}

func TestConcurrentGets(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				resource, err := m.GetResource(id)
				assert.NoError(t, err)
				assert.Equal(t, StatusOK, resource["status"])
			}
		}()
	}
	wg.Wait()
}

func TestCreateDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateResource(announce())
	require.NoError(t, err)
	_, err = m.CreateResource(announce())
	require.Error(t, err)
	_, ok := err.(*core.DuplicateError)
	assert.True(t, ok)
}

func TestGetMissing(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.GetResource("nope")
	require.Error(t, err)
	_, ok := err.(*core.NotFoundError)
	assert.True(t, ok)
}

func TestStatusAges(t *testing.T) {
	m, now := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)

	*now = now.Add(Tick / 2)
	resource, err := m.GetResource(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resource["status"])

	*now = now.Add(Tick)
	resource, err = m.GetResource(id)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, resource["status"])

	*now = now.Add(3 * Tick)
	resource, err = m.GetResource(id)
	require.NoError(t, err)
	assert.Equal(t, StatusLost, resource["status"])
}

func TestForgottenAfterTenPeriods(t *testing.T) {
	m, now := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)

	*now = now.Add(11 * Tick)
	_, err = m.GetResource(id)
	require.Error(t, err)
	_, ok := err.(*core.NotFoundError)
	assert.True(t, ok)

	// the entry is gone for good
	*now = now.Add(-11 * Tick)
	_, err = m.GetResource(id)
	assert.Error(t, err)
}

func TestListPurgesStaleEntries(t *testing.T) {
	m, now := newTestManager(t)
	_, err := m.CreateResource(announce())
	require.NoError(t, err)

	*now = now.Add(11 * Tick)
	fresh := announce()
	fresh["host"] = "other.napix.io"
	id, err := m.CreateResource(fresh)
	require.NoError(t, err)

	ids, err := m.ListResources()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{id}, ids)
}

func TestModifyRefreshes(t *testing.T) {
	m, now := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)

	*now = now.Add(5 * Tick)
	newID, err := m.ModifyResource(wrapperFor(m, id), announce())
	require.NoError(t, err)
	assert.Nil(t, newID)

	resource, err := m.GetResource(id)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resource["status"])
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateResource(announce())
	require.NoError(t, err)
	require.NoError(t, m.DeleteResource(wrapperFor(m, id)))

	err = m.DeleteResource(wrapperFor(m, id))
	require.Error(t, err)
	_, ok := err.(*core.NotFoundError)
	assert.True(t, ok)
}

func TestDescriptorValidation(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	d := NewDescriptor(backend)
	m := d.Spawn(nil)

	_, err = d.Validate(m, announce(), false)
	assert.NoError(t, err)

	bad := announce()
	bad["uid"] = "not-an-uuid"
	_, err = d.Validate(m, bad, false)
	require.Error(t, err)
	verr := err.(*core.ValidationError)
	assert.Contains(t, verr.Fields, "uid")

	bad = announce()
	bad["managers"] = []interface{}{"directory", float64(3)}
	_, err = d.Validate(m, bad, false)
	require.Error(t, err)
	verr = err.(*core.ValidationError)
	assert.Contains(t, verr.Fields["managers"], "list of strings")

	bad = announce()
	bad["host"] = " \n "
	_, err = d.Validate(m, bad, false)
	assert.Error(t, err)
}

func TestSerializeLastSeenAsInt(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	d := NewDescriptor(backend)
	out := d.Serialize(map[string]interface{}{
		"host":      "server.napix.io",
		"last_seen": float64(1234567),
	})
	assert.Equal(t, int64(1234567), out["last_seen"])
}
