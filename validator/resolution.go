package validator

import (
	"github.com/concrnt/ccworld-migration/entities"
)

// Key identifies an entity by kind and guid. Kind is an entity kind for
// relayables and a parent type ("Post", "Poll", "Comment") for parents.
type Key struct {
	Kind string
	GUID string
}

// Resolution carries what validation learned about an archive to the
// importer: parents fetched from other pods, relayables and contacts to
// leave out and the people contacts resolve to.
type Resolution struct {
	parents          map[Key]entities.Object
	parentOrder      []Key
	excluded         map[Key]bool
	contactHandles   map[int]string
	excludedContacts map[int]bool
}

func NewResolution() *Resolution {
	return &Resolution{
		parents:          map[Key]entities.Object{},
		excluded:         map[Key]bool{},
		contactHandles:   map[int]string{},
		excludedContacts: map[int]bool{},
	}
}

func (r *Resolution) AddParent(kind, guid string, object entities.Object) {
	key := Key{kind, guid}
	if _, ok := r.parents[key]; !ok {
		r.parentOrder = append(r.parentOrder, key)
	}
	r.parents[key] = object
}

func (r *Resolution) Parent(kind, guid string) (entities.Object, bool) {
	object, ok := r.parents[Key{kind, guid}]
	return object, ok
}

// Parents returns the fetched parents in the order they were found.
func (r *Resolution) Parents() []entities.Object {
	objects := make([]entities.Object, 0, len(r.parentOrder))
	for _, key := range r.parentOrder {
		objects = append(objects, r.parents[key])
	}
	return objects
}

func (r *Resolution) Exclude(kind entities.Kind, guid string) {
	r.excluded[Key{string(kind), guid}] = true
}

func (r *Resolution) Excluded(kind entities.Kind, guid string) bool {
	return r.excluded[Key{string(kind), guid}]
}

// ResolveContact records the handle the i-th archived contact stands for.
func (r *Resolution) ResolveContact(i int, handle string) {
	r.contactHandles[i] = handle
}

func (r *Resolution) ContactHandle(i int) (string, bool) {
	handle, ok := r.contactHandles[i]
	return handle, ok
}

func (r *Resolution) ExcludeContact(i int) {
	r.excludedContacts[i] = true
}

func (r *Resolution) ContactExcluded(i int) bool {
	return r.excludedContacts[i]
}
