// Package services turns manager registrations into a served URL tree.
//
// A Service walks the managed-class chain of a root manager and builds
// one CollectionService node per level. Each node knows its exact
// collection and resource URL shapes and registers its routes on a
// gorilla/mux router. The tree is built once at startup and is immutable
// afterwards; per-request state lives in the manager instances the nodes
// spawn.
package services

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/conf"
	"github.com/napix-io/napixd/core/logger"
	"github.com/napix-io/napixd/core/managers"
)

// Service serves one root manager and its managed-class tree.
type Service struct {
	conf     conf.Conf
	notifier core.Notifier
	root     *CollectionService
	all      []*CollectionService
}

// Builder assembles a Service.
type Builder struct {
	// Root is the root manager of the URL tree. This is mandatory.
	Root *managers.Descriptor
	// Conf is the managers' configuration. Each node resolves its own
	// subtree under the dotted path of manager names. This is optional.
	Conf conf.Conf
	// Notifier receives a notification for every successful modifying
	// operation. This is optional.
	Notifier core.Notifier
}

// NewService builds the CollectionService tree for the root manager.
// Cycles in the managed-class graph are rejected.
func NewService(b *Builder) (*Service, error) {
	if b.Root == nil {
		return nil, fmt.Errorf("root manager is missing")
	}
	s := &Service{conf: b.Conf, notifier: b.Notifier}
	if s.conf == nil {
		s.conf = conf.Conf{}
	}
	root, err := s.build(nil, b.Root, true, map[*managers.Descriptor]bool{})
	if err != nil {
		return nil, err
	}
	s.root = root
	return s, nil
}

// MustNewService builds the service and panics on error. A bad schema
// refuses to mount.
func MustNewService(b *Builder) *Service {
	s, err := NewService(b)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Service) build(parent *CollectionService, desc *managers.Descriptor, appendURL bool, seen map[*managers.Descriptor]bool) (*CollectionService, error) {
	if seen[desc] {
		return nil, fmt.Errorf("cycle in managed classes at %q", desc.Name())
	}
	seen[desc] = true
	defer delete(seen, desc)

	cs := &CollectionService{
		service:   s,
		parent:    parent,
		desc:      desc,
		appendURL: appendURL,
	}
	if parent != nil {
		cs.chain = append(append([]*CollectionService{}, parent.chain...), cs)
		cs.collectionURL = parent.resourceURL
	} else {
		cs.chain = []*CollectionService{cs}
	}
	if appendURL {
		cs.collectionURL = cs.collectionURL.Extend(desc.Name())
	}
	cs.resourceURL = cs.collectionURL.Var()

	names := make([]string, len(cs.chain))
	for i, node := range cs.chain {
		names[i] = node.desc.Name()
	}
	cs.path = strings.Join(names, "/")
	cs.conf = s.conf.Sub(strings.Join(names, "."))
	if cs.conf.Bool("lock", false) {
		cs.lock = &sync.Mutex{}
	}

	managed := desc.Managed()
	if single, ok := managed.Single(); ok {
		child, err := s.build(cs, single, false, seen)
		if err != nil {
			return nil, err
		}
		cs.children = append(cs.children, child)
	} else {
		for _, childDesc := range managed.All() {
			child, err := s.build(cs, childDesc, true, seen)
			if err != nil {
				return nil, err
			}
			cs.children = append(cs.children, child)
		}
	}
	s.all = append(s.all, cs)
	return cs, nil
}

// Root returns the root node of the tree.
func (s *Service) Root() *CollectionService {
	return s.root
}

// CollectionURL returns the collection URL of the root node.
func (s *Service) CollectionURL() string {
	return s.root.collectionURL.Pattern(true)
}

// RegisterRoutes adds the routes of every node of the tree to the
// router. The _napix_* routes are registered before the resource route
// of their node so that they match first.
func (s *Service) RegisterRoutes(router *mux.Router) {
	for _, cs := range s.all {
		cs.registerRoutes(router)
	}
}

// CollectionService is one node of the URL tree. It binds a manager
// class to its URL shape and its resolved configuration.
type CollectionService struct {
	service   *Service
	parent    *CollectionService
	children  []*CollectionService
	desc      *managers.Descriptor
	conf      conf.Conf
	chain     []*CollectionService
	appendURL bool
	path      string

	collectionURL URL
	resourceURL   URL

	// lock, when configured, serializes action invocations on the
	// resources of this node.
	lock *sync.Mutex
}

// Name returns the manager name of this node.
func (cs *CollectionService) Name() string {
	return cs.desc.Name()
}

// Depth returns the number of ancestor nodes.
func (cs *CollectionService) Depth() int {
	return len(cs.chain) - 1
}

// CollectionPattern returns the mux route template of the collection URL.
func (cs *CollectionService) CollectionPattern() string {
	return cs.collectionURL.Pattern(true)
}

// ResourcePattern returns the mux route template of the resource URL.
func (cs *CollectionService) ResourcePattern() string {
	return cs.resourceURL.Pattern(false)
}

func (cs *CollectionService) registerRoutes(router *mux.Router) {
	collection := cs.CollectionPattern()
	resource := cs.ResourcePattern()

	rlog := logger.Default()
	rlog.Debugln("handle collection routes:", collection)
	rlog.Debugln("handle resource routes:", resource)

	router.HandleFunc(collection+"_napix_resource_fields", cs.serveResourceFields).Methods(http.MethodGet)
	router.HandleFunc(collection+"_napix_help", cs.serveHelp).Methods(http.MethodGet)
	router.HandleFunc(collection+"_napix_new", cs.serveExampleResource).Methods(http.MethodGet)
	router.HandleFunc(collection, cs.serveCollection)
	for _, name := range cs.desc.ActionNames() {
		action := name
		router.HandleFunc(resource+"/"+action, func(w http.ResponseWriter, r *http.Request) {
			cs.serveAction(w, r, action)
		}).Methods(http.MethodPost)
	}
	if _, single := cs.desc.Managed().Single(); !single && !cs.desc.Managed().IsNone() {
		router.HandleFunc(resource+"/", cs.serveManagedClasses).Methods(http.MethodGet, http.MethodHead)
	}
	router.HandleFunc(resource, cs.serveResource)
}

// orderedPath extracts the positional ids f0, f1, ... from the mux vars.
func orderedPath(r *http.Request) []string {
	vars := mux.Vars(r)
	path := make([]string, 0, len(vars))
	for i := 0; ; i++ {
		id, ok := vars[fmt.Sprintf("f%d", i)]
		if !ok {
			return path
		}
		path = append(path, id)
	}
}

// manager builds a configured manager instance for this node, resolving
// the parent resource chain from ids.
func (cs *CollectionService) manager(ids []string) (managers.Manager, error) {
	parent, err := cs.parentResource(ids)
	if err != nil {
		return nil, err
	}
	m := cs.desc.Spawn(parent)
	if c, ok := m.(managers.Configurer); ok {
		if err := c.Configure(cs.conf); err != nil {
			return nil, fmt.Errorf("configure %s: %w", cs.path, err)
		}
	}
	return m, nil
}

// parentResource fetches the parent resource for this node. The root has
// an explicit nil parent.
func (cs *CollectionService) parentResource(ids []string) (managers.Parent, error) {
	if cs.parent == nil {
		return nil, nil
	}
	last := len(ids) - 1
	parentManager, err := cs.parent.manager(ids[:last])
	if err != nil {
		return nil, err
	}
	getter, ok := parentManager.(managers.Getter)
	if !ok {
		return nil, fmt.Errorf("manager %s cannot fetch resources", cs.parent.path)
	}
	id, err := cs.parent.desc.ValidateID(parentManager, ids[last])
	if err != nil {
		return nil, err
	}
	resource, err := getter.GetResource(id)
	if err != nil {
		return nil, err
	}
	return managers.Parent(resource), nil
}

// urlFor builds the resource URL for the given parent ids plus a leaf id.
func (cs *CollectionService) urlFor(parents []string, leaf interface{}) string {
	ids := make([]string, len(parents), len(parents)+1)
	copy(ids, parents)
	ids = append(ids, fmt.Sprint(leaf))
	return cs.resourceURL.Reverse(ids)
}

// notify reports a successful modifying operation to the service notifier.
func (cs *CollectionService) notify(op core.Operation, payload []byte) {
	if cs.service.notifier != nil {
		cs.service.notifier.Notify(cs.path, op, payload)
	}
}
