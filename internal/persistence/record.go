package persistence

import "context"

// Entity is implemented by pointers to structs that embed Record.
type Entity interface {
	record() *Record
}

// Record carries the identity and lifecycle state every entity shares. Embed
// it by value as the first field of an entity struct.
//
// A Record is not safe for concurrent mutation; share entities across
// goroutines only through the owning Repository.
type Record struct {
	CreationDate string
	Metadata     string

	id         string
	status     Status
	autoSave   bool
	autoDelete bool

	// setStatus is installed when the entity is registered in its
	// repository's identity cache.
	setStatus func(ctx context.Context, s Status) error
}

func (r *Record) record() *Record { return r }

// ID returns the primary key. It never changes after creation.
func (r *Record) ID() string { return r.id }

// Status returns the current status. It is empty only before the entity is
// registered.
func (r *Record) Status() Status { return r.status }

// AutoSave reports whether the entity is saved at flush time.
func (r *Record) AutoSave() bool { return r.autoSave }

// AutoDelete reports whether the entity is deleted at flush time.
func (r *Record) AutoDelete() bool { return r.autoDelete }

// SetAutoSave marks the entity for saving at flush. Enabling it clears
// AutoDelete.
func (r *Record) SetAutoSave(v bool) {
	r.autoSave = v
	if v {
		r.autoDelete = false
	}
}

// SetAutoDelete marks the entity for deletion at flush. Enabling it clears
// AutoSave.
func (r *Record) SetAutoDelete(v bool) {
	r.autoDelete = v
	if v {
		r.autoSave = false
	}
}

// SetStatus validates s against the entity type's enumeration, assigns it and
// runs the status hook. The empty status resolves to the type default.
//
// Before the entity is registered the value is only recorded; it is
// validated and dispatched once registration completes.
func (r *Record) SetStatus(ctx context.Context, s Status) error {
	if r.setStatus == nil {
		r.status = s
		return nil
	}
	return r.setStatus(ctx, s)
}
