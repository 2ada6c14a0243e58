package persistence

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/metrics"
)

// Collection is an ordered, duplicate-free (by id) set of entities of one
// type, bound to their repository for batch writes.
type Collection[E Entity] struct {
	repo  *Repository[E]
	items []E
	index map[string]int
}

// Collection returns a collection holding items, in order, duplicates
// dropped.
func (r *Repository[E]) Collection(items ...E) *Collection[E] {
	c := &Collection[E]{repo: r, index: make(map[string]int, len(items))}
	for _, e := range items {
		c.Add(e)
	}
	return c
}

// Add appends e unless an entity with the same id is already present.
func (c *Collection[E]) Add(e E) bool {
	id := e.record().id
	if _, ok := c.index[id]; ok {
		return false
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, e)
	return true
}

// Remove drops the entity with e's id.
func (c *Collection[E]) Remove(e E) bool {
	i, ok := c.index[e.record().id]
	if !ok {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.reindex()
	return true
}

func (c *Collection[E]) reindex() {
	c.index = make(map[string]int, len(c.items))
	for i, e := range c.items {
		c.index[e.record().id] = i
	}
}

// Contains reports whether an entity with e's id is present.
func (c *Collection[E]) Contains(e E) bool {
	_, ok := c.index[e.record().id]
	return ok
}

// Len returns the number of entities.
func (c *Collection[E]) Len() int { return len(c.items) }

// Items returns the entities in order. The slice is a copy.
func (c *Collection[E]) Items() []E { return append([]E(nil), c.items...) }

// IDs returns the ids in order.
func (c *Collection[E]) IDs() []string {
	ids := make([]string, len(c.items))
	for i, e := range c.items {
		ids[i] = e.record().id
	}
	return ids
}

// Clear empties the collection without touching the store.
func (c *Collection[E]) Clear() {
	c.items = nil
	c.index = make(map[string]int)
}

// Filter returns a new collection with the entities keep accepts.
func (c *Collection[E]) Filter(keep func(E) bool) *Collection[E] {
	out := c.repo.Collection()
	for _, e := range c.items {
		if keep(e) {
			out.Add(e)
		}
	}
	return out
}

// FilterFields returns a new collection with the entities whose columns equal
// every value in want. Unknown columns are an error.
func (c *Collection[E]) FilterFields(want map[string]any) (*Collection[E], error) {
	fields := make(map[string]Field, len(want))
	for col := range want {
		if col == "id" {
			continue
		}
		f, ok := c.repo.schema.Field(col)
		if !ok {
			return nil, apperrors.ErrInvalidFilterf(c.repo.typ.Name, col)
		}
		fields[col] = f
	}
	return c.Filter(func(e E) bool {
		for col, v := range want {
			var got any
			if col == "id" {
				got = e.record().id
			} else {
				got = fieldValue(e, fields[col]).Interface()
			}
			if !reflect.DeepEqual(normalizeParam(got), normalizeParam(v)) {
				return false
			}
		}
		return true
	}), nil
}

// Values projects one column across the collection, in order.
func (c *Collection[E]) Values(column string) ([]any, error) {
	out := make([]any, len(c.items))
	if column == "id" {
		for i, e := range c.items {
			out[i] = e.record().id
		}
		return out, nil
	}
	f, ok := c.repo.schema.Field(column)
	if !ok {
		return nil, apperrors.ErrInvalidFilterf(c.repo.typ.Name, column)
	}
	for i, e := range c.items {
		out[i] = fieldValue(e, f).Interface()
	}
	return out, nil
}

// SetField assigns value to column on every entity. Status is not settable
// here; use SetStatus so hooks run.
func (c *Collection[E]) SetField(column string, value any) error {
	f, ok := c.repo.schema.Field(column)
	if !ok || f.kind == kindStatus {
		return apperrors.ErrInvalidFilterf(c.repo.typ.Name, column)
	}
	for _, e := range c.items {
		dst := fieldValue(e, f)
		v := reflect.ValueOf(value)
		if !v.IsValid() {
			dst.Set(f.zero())
			continue
		}
		if !v.Type().ConvertibleTo(dst.Type()) {
			return apperrors.BadRequest(apperrors.CodeInvalidRequest,
				fmt.Sprintf("%s.%s: cannot assign %s", c.repo.typ.Name, column, v.Type()))
		}
		dst.Set(v.Convert(dst.Type()))
	}
	return nil
}

// SetStatus sets s on every entity, running hooks. Every entity is
// attempted; failures are joined.
func (c *Collection[E]) SetStatus(ctx context.Context, s Status) error {
	var errs []error
	for _, e := range c.Items() {
		if err := e.record().SetStatus(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StatusAction re-runs the hook for each entity's current status.
func (c *Collection[E]) StatusAction(ctx context.Context) error {
	var errs []error
	for _, e := range c.Items() {
		hook := c.repo.typ.Hooks[e.record().status]
		if hook == nil {
			continue
		}
		if err := hook(ctx, c.repo, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetAutoSave sets the flag on every entity.
func (c *Collection[E]) SetAutoSave(v bool) {
	for _, e := range c.items {
		e.record().SetAutoSave(v)
	}
}

// SetAutoDelete sets the flag on every entity.
func (c *Collection[E]) SetAutoDelete(v bool) {
	for _, e := range c.items {
		e.record().SetAutoDelete(v)
	}
}

// SaveAll upserts the collection, batchSize rows per statement, each batch in
// its own transaction. When a batch fails its records are retried one by one
// and the individual failures are joined. Saved entities are evicted from the
// identity cache so later loads read fresh rows.
func (c *Collection[E]) SaveAll(ctx context.Context, batchSize int) error {
	if len(c.items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = c.repo.pc.BatchSize()
	}
	r := c.repo
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}

	var (
		errs  []error
		saved = make([]E, 0, len(c.items))
	)
	for start := 0; start < len(c.items); start += batchSize {
		batch := c.items[start:min(start+batchSize, len(c.items))]
		err := exec.InTx(ctx, func(tx Executor) error {
			args := make([]any, 0, len(batch)*(len(r.schema.Fields)+1))
			for _, e := range batch {
				row, err := r.schema.rowArgs(e)
				if err != nil {
					return err
				}
				args = append(args, row...)
			}
			_, err := tx.Exec(ctx, r.schema.UpsertSQL(len(batch)), args...)
			return err
		})
		if err == nil {
			saved = append(saved, batch...)
			metrics.RecordRowsWritten(r.typ.Name, "save", len(batch))
			continue
		}
		metrics.RecordPersistError(r.typ.Name, "save_batch")

		r.log.Error("Exception ignored saving batch, retrying records one by one",
			zap.Int("batch_start", start), zap.Int("batch_len", len(batch)), zap.Error(err))
		for _, e := range batch {
			if err := r.Save(ctx, e); err != nil {
				r.log.Error("Record save failed", zap.String("id", e.record().id), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			saved = append(saved, e)
		}
	}

	if len(saved) > 0 {
		r.dirty.Store(true)
	}
	for _, e := range saved {
		r.cache.remove(e)
	}
	r.log.Info("Entities saved", zap.Int("count", len(saved)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// DeleteAll deletes (or archives) the collection with one statement, then
// evicts the members and empties the collection. When the statement fails
// each record is deleted individually.
func (c *Collection[E]) DeleteAll(ctx context.Context, opts DeleteOptions) error {
	if len(c.items) == 0 {
		return nil
	}
	r := c.repo
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}

	items := c.Items()
	args := make([]any, len(items))
	for i, e := range items {
		args[i] = e.record().id
	}
	sql := r.schema.DeleteSQL(len(items))
	if opts.Archive {
		sql = r.schema.ArchiveSQL(len(items))
	}

	var errs []error
	if _, err := exec.Exec(ctx, sql, args...); err != nil {
		metrics.RecordPersistError(r.typ.Name, "delete_batch")
		r.log.Error("Exception ignored deleting batch, retrying records one by one",
			zap.Int("count", len(items)), zap.Error(err))
		for _, e := range items {
			if err := r.deleteOne(ctx, exec, e, opts); err != nil {
				r.log.Error("Record delete failed", zap.String("id", e.record().id), zap.Error(err))
				errs = append(errs, err)
			}
		}
	} else {
		for _, e := range items {
			r.finishDelete(ctx, e, opts)
		}
	}

	c.Clear()
	r.log.Info("Entities deleted", zap.Int("count", len(items)-len(errs)), zap.Bool("archive", opts.Archive))
	return errors.Join(errs...)
}

// deleteOne deletes e by id regardless of whether it is the live instance.
func (r *Repository[E]) deleteOne(ctx context.Context, exec Executor, e E, opts DeleteOptions) error {
	id := e.record().id
	sql := r.schema.DeleteSQL(1)
	if opts.Archive {
		sql = r.schema.ArchiveSQL(1)
	}
	if _, err := exec.Exec(ctx, sql, id); err != nil {
		return r.persistErr(err, "delete", id)
	}
	r.finishDelete(ctx, e, opts)
	return nil
}
