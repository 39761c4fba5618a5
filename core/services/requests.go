package services

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/logger"
	"github.com/napix-io/napixd/core/managers"
)

// maxBodyBytes bounds request bodies; the framework does not stream.
const maxBodyBytes = 1 << 20

// serveCollection dispatches a request on a collection URL.
func (cs *CollectionService) serveCollection(w http.ResponseWriter, r *http.Request) {
	path := orderedPath(r)
	m, err := cs.manager(path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	done, err := startRequest(m, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer done()

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		cs.serveList(w, r, m, path)
	case http.MethodPost:
		cs.serveCreate(w, r, m, path)
	default:
		writeError(w, r, &core.MethodNotAllowedError{Allowed: collectionMethods(m)})
	}
}

// serveList handles GET and HEAD on a collection, negotiating between
// list, filtered list and the two getall variants from the query
// parameters.
func (cs *CollectionService) serveList(w http.ResponseWriter, r *http.Request, m managers.Manager, path []string) {
	params := r.URL.Query()
	getall := params.Has("getall")
	extra := len(params)
	if getall {
		extra--
	}
	_, canFilter := m.(managers.Filterer)

	switch {
	case getall && extra > 0:
		all, ok := m.(managers.AllFilterer)
		if !ok {
			writeError(w, r, &core.MethodNotAllowedError{Allowed: collectionMethods(m)})
			return
		}
		pairs, err := all.GetAllResourcesFilter(params)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cs.respondPairs(w, r, path, pairs)
	case getall:
		all, ok := m.(managers.AllGetter)
		if !ok {
			writeError(w, r, &core.MethodNotAllowedError{Allowed: collectionMethods(m)})
			return
		}
		pairs, err := all.GetAllResources()
		if err != nil {
			writeError(w, r, err)
			return
		}
		cs.respondPairs(w, r, path, pairs)
	case extra > 0 && canFilter:
		ids, err := m.(managers.Filterer).ListResourcesFilter(params)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cs.respondIDs(w, r, path, ids)
	default:
		lister, ok := m.(managers.Lister)
		if !ok {
			writeError(w, r, &core.MethodNotAllowedError{Allowed: collectionMethods(m)})
			return
		}
		ids, err := lister.ListResources()
		if err != nil {
			writeError(w, r, err)
			return
		}
		cs.respondIDs(w, r, path, ids)
	}
}

func (cs *CollectionService) respondIDs(w http.ResponseWriter, r *http.Request, path []string, ids []interface{}) {
	urls := make([]string, len(ids))
	for i, id := range ids {
		urls[i] = cs.urlFor(path, id)
	}
	respond(w, r, http.StatusOK, urls)
}

func (cs *CollectionService) respondPairs(w http.ResponseWriter, r *http.Request, path []string, pairs []managers.IDResource) {
	body := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		body[cs.urlFor(path, pair.ID)] = cs.desc.Serialize(pair.Resource)
	}
	respond(w, r, http.StatusOK, body)
}

// serveCreate handles POST on a collection.
func (cs *CollectionService) serveCreate(w http.ResponseWriter, r *http.Request, m managers.Manager, path []string) {
	creator, ok := m.(managers.Creator)
	if !ok {
		writeError(w, r, &core.MethodNotAllowedError{Allowed: collectionMethods(m)})
		return
	}
	data, err := parseBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	validated, err := cs.desc.Validate(m, cs.desc.Unserialize(data), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := creator.CreateResource(validated)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id == nil {
		logger.FromContext(r.Context()).Errorf("manager %s did not return an id on create", cs.path)
		respond(w, r, http.StatusInternalServerError,
			map[string]string{"error": "create_resource must return the id"})
		return
	}
	payload, _ := json.Marshal(cs.desc.Serialize(validated))
	cs.notify(core.OperationCreate, payload)
	w.Header().Set("Location", cs.urlFor(path, id))
	w.WriteHeader(http.StatusCreated)
}

// serveResource dispatches a request on a resource URL.
func (cs *CollectionService) serveResource(w http.ResponseWriter, r *http.Request) {
	path := orderedPath(r)
	last := len(path) - 1
	m, err := cs.manager(path[:last])
	if err != nil {
		writeError(w, r, err)
		return
	}
	done, err := startRequest(m, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer done()

	id, err := cs.desc.ValidateID(m, path[last])
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if format := r.URL.Query().Get("format"); format != "" && r.Method == http.MethodGet {
			cs.serveFormatted(w, r, m, id, format)
			return
		}
		getter, ok := m.(managers.Getter)
		if !ok {
			writeError(w, r, &core.MethodNotAllowedError{Allowed: resourceMethods(m)})
			return
		}
		resource, err := getter.GetResource(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if resource == nil {
			writeError(w, r, fmt.Errorf("manager %s returned no resource for id %v", cs.path, id))
			return
		}
		respond(w, r, http.StatusOK, cs.desc.Serialize(resource))

	case http.MethodPut:
		cs.serveModify(w, r, m, path[:last], id)

	case http.MethodDelete:
		deleter, ok := m.(managers.Deleter)
		if !ok {
			writeError(w, r, &core.MethodNotAllowedError{Allowed: resourceMethods(m)})
			return
		}
		if err := deleter.DeleteResource(&managers.Wrapper{Manager: m, ID: id}); err != nil {
			writeError(w, r, err)
			return
		}
		cs.notify(core.OperationDelete, nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, r, &core.MethodNotAllowedError{Allowed: resourceMethods(m)})
	}
}

// serveModify handles PUT on a resource. The current resource is fetched
// first so the manager receives a full wrapper. A returned id moves the
// resource and yields 205 with the new Location.
func (cs *CollectionService) serveModify(w http.ResponseWriter, r *http.Request, m managers.Manager, parents []string, id interface{}) {
	modifier, ok := m.(managers.Modifier)
	if !ok {
		writeError(w, r, &core.MethodNotAllowedError{Allowed: resourceMethods(m)})
		return
	}
	getter, ok := m.(managers.Getter)
	if !ok {
		writeError(w, r, &core.MethodNotAllowedError{Allowed: resourceMethods(m)})
		return
	}
	resource, err := getter.GetResource(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := parseBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	validated, err := cs.desc.Validate(m, cs.desc.Unserialize(data), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	newID, err := modifier.ModifyResource(&managers.Wrapper{Manager: m, ID: id, Resource: resource}, validated)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, _ := json.Marshal(cs.desc.Serialize(validated))
	cs.notify(core.OperationUpdate, payload)
	if newID == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Location", cs.urlFor(parents, newID))
	w.WriteHeader(http.StatusResetContent)
}

// serveFormatted handles GET ?format= on a resource. An unknown format
// yields 406 with the list of known formats.
func (cs *CollectionService) serveFormatted(w http.ResponseWriter, r *http.Request, m managers.Manager, id interface{}, format string) {
	formatter, ok := cs.desc.Formatter(format)
	if !ok {
		writeError(w, r, &core.NotAcceptableError{Formats: cs.desc.FormatNames()})
		return
	}
	getter, ok := m.(managers.Getter)
	if !ok {
		writeError(w, r, &core.MethodNotAllowedError{Allowed: resourceMethods(m)})
		return
	}
	resource, err := getter.GetResource(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := formatter(w, &managers.Wrapper{Manager: m, ID: id, Resource: resource}); err != nil {
		// the formatter may have started the response already; all that
		// is left to do is log
		logger.FromContext(r.Context()).WithError(err).Errorf("formatter %s on %s failed", format, cs.path)
	}
}

// serveAction dispatches a custom POST action on a resource. When the
// node carries a lock, the whole invocation runs under it.
func (cs *CollectionService) serveAction(w http.ResponseWriter, r *http.Request, name string) {
	action, ok := cs.desc.Action(name)
	if !ok {
		writeError(w, r, core.NotFound(name))
		return
	}
	path := orderedPath(r)
	last := len(path) - 1
	m, err := cs.manager(path[:last])
	if err != nil {
		writeError(w, r, err)
		return
	}
	done, err := startRequest(m, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer done()

	id, err := cs.desc.ValidateID(m, path[last])
	if err != nil {
		writeError(w, r, err)
		return
	}
	getter, ok := m.(managers.Getter)
	if !ok {
		writeError(w, r, fmt.Errorf("manager %s cannot fetch resources", cs.path))
		return
	}
	data, err := parseBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := action.Validate(m, data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if cs.lock != nil {
		cs.lock.Lock()
		defer cs.lock.Unlock()
	}
	resource, err := getter.GetResource(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := action.Run(m, &managers.Wrapper{Manager: m, ID: id, Resource: resource}, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respond(w, r, http.StatusOK, result)
}

// serveResourceFields serves the _napix_resource_fields schema.
func (cs *CollectionService) serveResourceFields(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, cs.desc.Describe())
}

// serveExampleResource serves the _napix_new example resource.
func (cs *CollectionService) serveExampleResource(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, cs.desc.ExampleResource())
}

// serveHelp serves the _napix_help self-description.
func (cs *CollectionService) serveHelp(w http.ResponseWriter, r *http.Request) {
	m := cs.desc.Spawn(nil)
	managed := []string{}
	for _, child := range cs.desc.Managed().All() {
		managed = append(managed, child.Name())
	}
	respond(w, r, http.StatusOK, map[string]interface{}{
		"doc":                cs.desc.Doc(),
		"managed_class":      managed,
		"collection_methods": collectionMethods(m),
		"resource_methods":   resourceMethods(m),
		"resource_fields":    cs.desc.Describe(),
	})
}

// serveManagedClasses lists the child collection URLs of one resource.
// The resource is fetched so a missing id yields 404.
func (cs *CollectionService) serveManagedClasses(w http.ResponseWriter, r *http.Request) {
	path := orderedPath(r)
	last := len(path) - 1
	m, err := cs.manager(path[:last])
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := cs.desc.ValidateID(m, path[last])
	if err != nil {
		writeError(w, r, err)
		return
	}
	getter, ok := m.(managers.Getter)
	if !ok {
		writeError(w, r, fmt.Errorf("manager %s cannot fetch resources", cs.path))
		return
	}
	if _, err := getter.GetResource(id); err != nil {
		writeError(w, r, err)
		return
	}
	urls := make([]string, len(cs.children))
	for i, child := range cs.children {
		urls[i] = child.collectionURL.Reverse(path) + "/"
	}
	respond(w, r, http.StatusOK, urls)
}

// startRequest runs the manager's StartRequest hook and returns the
// matching EndRequest closure.
func startRequest(m managers.Manager, r *http.Request) (func(), error) {
	hook, ok := m.(managers.RequestHook)
	if !ok {
		return func() {}, nil
	}
	if err := hook.StartRequest(r); err != nil {
		return nil, err
	}
	return func() { hook.EndRequest(r) }, nil
}

// collectionMethods returns the advertised Allow list for a collection
// URL, derived from the operations the manager implements.
func collectionMethods(m managers.Manager) []string {
	methods := []string{}
	if _, ok := m.(managers.Lister); ok {
		methods = append(methods, http.MethodGet, http.MethodHead)
	}
	if _, ok := m.(managers.Creator); ok {
		methods = append(methods, http.MethodPost)
	}
	return methods
}

// resourceMethods returns the advertised Allow list for a resource URL.
func resourceMethods(m managers.Manager) []string {
	methods := []string{}
	if _, ok := m.(managers.Getter); ok {
		methods = append(methods, http.MethodGet, http.MethodHead)
	}
	if _, ok := m.(managers.Modifier); ok {
		methods = append(methods, http.MethodPut)
	}
	if _, ok := m.(managers.Deleter); ok {
		methods = append(methods, http.MethodDelete)
	}
	return methods
}

// parseBody decodes a JSON or form-urlencoded request body into a
// resource mapping. An empty body yields an empty mapping.
func parseBody(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return map[string]interface{}{}, nil
	}
	mediaType := r.Header.Get("Content-Type")
	if mediaType != "" {
		if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
			mediaType = parsed
		}
	}
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, core.Invalid("cannot parse form body: %v", err)
		}
		data := make(map[string]interface{}, len(r.PostForm))
		for key := range r.PostForm {
			data[key] = r.PostForm.Get(key)
		}
		return data, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, core.Invalid("cannot read body: %v", err)
	}
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, core.Invalid("body is not a JSON object: %v", err)
	}
	return data, nil
}

// respond writes a JSON response. HEAD requests get the status and
// headers without a body.
func respond(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if r.Method == http.MethodHead || body == nil {
		return
	}
	data, err := json.MarshalWithOption(body, json.DisableHTMLEscape())
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("cannot serialize response")
		return
	}
	w.Write(data)
}

// writeError converts the recoverable error kinds into their HTTP
// responses. Anything else is logged and becomes an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := logger.FromContext(r.Context())

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		respond(w, r, http.StatusBadRequest, verr.Body())
		return
	}
	var nferr *core.NotFoundError
	if errors.As(err, &nferr) {
		respond(w, r, http.StatusNotFound, map[string]string{"error": nferr.Error()})
		return
	}
	var duperr *core.DuplicateError
	if errors.As(err, &duperr) {
		respond(w, r, http.StatusConflict, map[string]string{"error": duperr.Error()})
		return
	}
	var mnaerr *core.MethodNotAllowedError
	if errors.As(err, &mnaerr) {
		w.Header().Set("Allow", strings.Join(mnaerr.Allowed, ", "))
		respond(w, r, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var naerr *core.NotAcceptableError
	if errors.As(err, &naerr) {
		respond(w, r, http.StatusNotAcceptable, map[string]string{"error": naerr.Error()})
		return
	}
	rlog.WithError(err).Error("internal error")
	respond(w, r, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
