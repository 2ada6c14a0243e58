package persistence

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/metrics"
)

// Hook reacts to an entity entering a status. Hooks may save or delete the
// entity through repo.
type Hook[E Entity] func(ctx context.Context, repo *Repository[E], e E) error

// EntityType declares an entity type to a Context.
type EntityType[E Entity] struct {
	// Name is the table name. Defaults to the struct name.
	Name string
	// New allocates an empty entity. Defaults to reflect.New of the struct.
	New func() E
	// Statuses is the status enumeration. Required.
	Statuses StatusSet
	// Hooks maps a status to the handler run when an entity enters it.
	Hooks map[Status]Hook[E]
	// Reconcile may adjust a freshly assigned status (for example to
	// reflect derived state). It runs before dispatch and never re-enters
	// it. Returning "" keeps the assigned status.
	Reconcile func(e E) Status
	Indexes   []Index
	// RemoveFiles releases resources the entity owns outside the store. It
	// runs on Delete unless DeleteOptions.KeepFiles is set.
	RemoveFiles func(ctx context.Context, e E) error
}

// DeleteOptions tunes Delete and Collection.DeleteAll.
type DeleteOptions struct {
	// Archive keeps the row as a tombstone (every column but id NULL).
	Archive bool
	// KeepFiles skips EntityType.RemoveFiles.
	KeepFiles bool
}

// Repository persists one entity type. It is safe for concurrent use; the
// entities it hands out are not.
type Repository[E Entity] struct {
	pc     *Context
	typ    EntityType[E]
	schema *Schema
	cache  *identityCache[E]
	log    *zap.Logger

	tableMu    sync.Mutex
	tableReady bool

	dirty atomic.Bool
}

// Register derives the schema of E and adds the type to pc.
func Register[E Entity](pc *Context, t EntityType[E]) (*Repository[E], error) {
	fields, err := Describe[E]()
	if err != nil {
		return nil, err
	}
	structType := reflect.TypeFor[E]()
	if structType.Kind() != reflect.Pointer {
		return nil, apperrors.ErrConfigf("entity type %s must be a pointer to a struct", structType)
	}
	structType = structType.Elem()
	if t.Name == "" {
		t.Name = structType.Name()
	}
	if t.New == nil {
		t.New = func() E { return reflect.New(structType).Interface().(E) }
	}
	if t.Statuses.Default() == "" {
		return nil, apperrors.ErrConfigf("entity type %s declares no default status", t.Name)
	}
	for s := range t.Hooks {
		if !t.Statuses.Contains(s) {
			return nil, apperrors.ErrInvalidStatusf(t.Name, string(s))
		}
	}

	schema, err := newSchema(t.Name, fields)
	if err != nil {
		return nil, err
	}
	for _, idx := range t.Indexes {
		if idx.Name == "" || len(idx.Columns) == 0 {
			return nil, apperrors.ErrConfigf("entity type %s: index needs a name and columns", t.Name)
		}
		for _, col := range idx.Columns {
			if !schema.known(col) {
				return nil, apperrors.ErrInvalidFilterf(t.Name, col)
			}
		}
	}

	r := &Repository[E]{
		pc:     pc,
		typ:    t,
		schema: schema,
		cache:  newIdentityCache[E](),
		log:    pc.log.With(zap.String("entity", t.Name)),
	}
	if err := pc.register(t.Name, r); err != nil {
		return nil, err
	}
	return r, nil
}

// MustRegister is Register for package-level wiring; it panics on error.
func MustRegister[E Entity](pc *Context, t EntityType[E]) *Repository[E] {
	r, err := Register(pc, t)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the entity type (and table) name.
func (r *Repository[E]) Name() string { return r.typ.Name }

// Schema returns the derived schema.
func (r *Repository[E]) Schema() *Schema { return r.schema }

// Statuses returns the type's status enumeration.
func (r *Repository[E]) Statuses() StatusSet { return r.typ.Statuses }

// Context returns the owning persistence context.
func (r *Repository[E]) Context() *Context { return r.pc }

func (r *Repository[E]) typeName() string { return r.typ.Name }

func (r *Repository[E]) resetTable() {
	r.tableMu.Lock()
	r.tableReady = false
	r.tableMu.Unlock()
}

// executor connects if needed and makes sure the table and its indexes exist.
func (r *Repository[E]) executor(ctx context.Context) (Executor, error) {
	exec, err := r.pc.Connect(ctx)
	if err != nil {
		return nil, err
	}
	r.tableMu.Lock()
	defer r.tableMu.Unlock()
	if r.tableReady {
		return exec, nil
	}
	if _, err := exec.Exec(ctx, r.schema.CreateTableSQL()); err != nil {
		return nil, fmt.Errorf("create table %s: %w", r.typ.Name, err)
	}
	for _, idx := range r.typ.Indexes {
		if _, err := exec.Exec(ctx, r.schema.CreateIndexSQL(idx)); err != nil {
			return nil, fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	r.tableReady = true
	return exec, nil
}

// EnsureTable creates the table and its indexes if they are missing.
func (r *Repository[E]) EnsureTable(ctx context.Context) error {
	_, err := r.executor(ctx)
	return err
}

func (r *Repository[E]) applyDefaults(e E) {
	for _, f := range r.schema.Fields {
		if f.kind == kindValue {
			fieldValue(e, f).Set(f.zero())
		}
	}
}

func (r *Repository[E]) bind(e E) {
	e.record().setStatus = func(ctx context.Context, s Status) error {
		return r.applyStatus(ctx, e, s, false)
	}
}

// applyStatus validates and assigns s, reconciles, then dispatches the hook
// for the resulting status when it changed (always when initial).
func (r *Repository[E]) applyStatus(ctx context.Context, e E, s Status, initial bool) error {
	rec := e.record()
	resolved, ok := r.typ.Statuses.Resolve(s)
	if !ok {
		return apperrors.ErrInvalidStatusf(r.typ.Name, string(s))
	}
	prev := rec.status
	rec.status = resolved
	if r.typ.Reconcile != nil {
		if adj := r.typ.Reconcile(e); adj != "" && adj != rec.status {
			if !r.typ.Statuses.Contains(adj) {
				return apperrors.ErrInvalidStatusf(r.typ.Name, string(adj))
			}
			rec.status = adj
		}
	}
	if !initial && rec.status == prev {
		return nil
	}
	hook := r.typ.Hooks[rec.status]
	if hook == nil {
		return nil
	}
	if err := hook(ctx, r, e); err != nil {
		return fmt.Errorf("%s %s: %s hook: %w", r.typ.Name, rec.id, rec.status, err)
	}
	return nil
}

// GetOrCreate returns the live instance for id, or creates one. When id is
// empty the creation token is used as the id.
//
// A live instance is returned unchanged and init is NOT applied to it;
// created reports which case occurred. A new instance gets its defaults,
// then init, then its status is initialized (running the status hook once).
// New instances are not written to the store until saved.
func (r *Repository[E]) GetOrCreate(ctx context.Context, id string, init func(E)) (e E, created bool, err error) {
	if id != "" {
		if live, ok := r.cache.get(id); ok {
			return live, false, nil
		}
	}

	fresh := id == ""
	e = r.typ.New()
	rec := e.record()
	r.applyDefaults(e)
	rec.CreationDate = r.pc.clock.next()
	if fresh {
		id = rec.CreationDate
	}
	rec.id = id
	if init != nil {
		init(e)
	}
	pending := rec.status
	rec.status = ""
	if _, ok := r.typ.Statuses.Resolve(pending); !ok {
		var zero E
		return zero, false, apperrors.ErrInvalidStatusf(r.typ.Name, string(pending))
	}

	for {
		live, loaded := r.cache.loadOrStore(id, e)
		if !loaded {
			break
		}
		if !fresh {
			return live, false, nil
		}
		// A generated id can only be taken by an entity hydrated from an
		// earlier run; move on to the next token.
		r.log.Warn("Creation token already in use", zap.String("id", id))
		rec.CreationDate = r.pc.clock.next()
		id = rec.CreationDate
		rec.id = id
	}
	r.bind(e)
	if err := r.applyStatus(ctx, e, pending, true); err != nil {
		return e, true, err
	}
	r.log.Debug("Entity created", zap.String("id", id))
	return e, true, nil
}

// New creates an entity with a fresh id.
func (r *Repository[E]) New(ctx context.Context, init func(E)) (E, error) {
	e, _, err := r.GetOrCreate(ctx, "", init)
	return e, err
}

// hydrate converts a row into an entity through the identity cache. ok is
// false when a status hook deleted the entity while it was initialized.
func (r *Repository[E]) hydrate(ctx context.Context, cols []string, vals []any) (e E, ok bool, err error) {
	var id string
	for i, c := range cols {
		if c == "id" {
			if id, err = cast.ToStringE(vals[i]); err != nil {
				return e, false, fmt.Errorf("decode %s id: %w", r.typ.Name, err)
			}
			break
		}
	}
	if id == "" {
		return e, false, fmt.Errorf("decode %s: row has no id", r.typ.Name)
	}
	if live, found := r.cache.get(id); found {
		return live, true, nil
	}

	e = r.typ.New()
	rec := e.record()
	r.applyDefaults(e)
	rec.id = id
	for i, c := range cols {
		f, known := r.schema.Field(c)
		if !known {
			continue
		}
		if err := decodeField(f, vals[i], fieldValue(e, f)); err != nil {
			return e, false, fmt.Errorf("%s %s: %w", r.typ.Name, id, err)
		}
	}
	pending := rec.status
	rec.status = ""
	if _, ok := r.typ.Statuses.Resolve(pending); !ok {
		return e, false, apperrors.ErrInvalidStatusf(r.typ.Name, string(pending))
	}

	if live, loaded := r.cache.loadOrStore(id, e); loaded {
		return live, true, nil
	}
	r.bind(e)
	if err := r.applyStatus(ctx, e, pending, true); err != nil {
		return e, false, err
	}
	if !r.cache.holds(e) {
		return e, false, nil
	}
	return e, true, nil
}

func (r *Repository[E]) fetch(ctx context.Context, q Query) ([]string, [][]any, error) {
	sql, params, err := r.schema.BuildSelect(q)
	if err != nil {
		return nil, nil, err
	}
	exec, err := r.executor(ctx)
	if err != nil {
		return nil, nil, err
	}
	r.log.Debug("Query", zap.String("sql", sql), zap.Int("params", len(params)))
	rows, err := exec.Query(ctx, sql, params...)
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", r.typ.Name, err)
	}
	cols, data, err := collectRows(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s rows: %w", r.typ.Name, err)
	}
	return cols, data, nil
}

// Stream runs q and yields entities lazily. Rows are read in full before the
// first entity is built, so status hooks may use the store while iterating.
func (r *Repository[E]) Stream(ctx context.Context, q Query) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		cols, rows, err := r.fetch(ctx, q)
		if err != nil {
			var zero E
			yield(zero, err)
			return
		}
		for _, row := range rows {
			e, ok, err := r.hydrate(ctx, cols, row)
			if err != nil {
				if !yield(e, err) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Load returns the first entity matching q. found is false when no row
// matches; archived rows never match.
func (r *Repository[E]) Load(ctx context.Context, q Query) (e E, found bool, err error) {
	for e, err = range r.Stream(ctx, q.WithLimit(1)) {
		if err != nil {
			return e, false, err
		}
		r.log.Debug("Entity loaded", zap.String("id", e.record().id))
		return e, true, nil
	}
	return e, false, nil
}

// Get loads by id and reports a missing row as ENTITY_NOT_FOUND.
func (r *Repository[E]) Get(ctx context.Context, id string) (E, error) {
	e, found, err := r.Load(ctx, ByID(id))
	if err != nil {
		return e, err
	}
	if !found {
		return e, apperrors.ErrEntityNotFoundf(r.typ.Name, id)
	}
	return e, nil
}

// LoadMany loads every entity matching q into a collection.
func (r *Repository[E]) LoadMany(ctx context.Context, q Query) (*Collection[E], error) {
	c := r.Collection()
	for e, err := range r.Stream(ctx, q) {
		if err != nil {
			return nil, err
		}
		c.Add(e)
	}
	r.log.Info("Entities loaded", zap.Int("count", c.Len()))
	return c, nil
}

// Count returns how many rows match q.
func (r *Repository[E]) Count(ctx context.Context, q Query) (int64, error) {
	sql, params, err := r.schema.BuildCount(q)
	if err != nil {
		return 0, err
	}
	exec, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := exec.Query(ctx, sql, params...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.typ.Name, err)
	}
	_, data, err := collectRows(rows)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.typ.Name, err)
	}
	if len(data) == 0 || len(data[0]) == 0 {
		return 0, nil
	}
	return cast.ToInt64E(data[0][0])
}

// LoadColumn returns every stored value of column, archived rows included.
func (r *Repository[E]) LoadColumn(ctx context.Context, column string) ([]any, error) {
	if !r.schema.known(column) {
		return nil, apperrors.ErrInvalidFilterf(r.typ.Name, column)
	}
	exec, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, fmt.Sprintf(`SELECT %s FROM "%s"`, column, r.typ.Name))
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", r.typ.Name, column, err)
	}
	_, data, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", r.typ.Name, column, err)
	}

	out := make([]any, 0, len(data))
	f, isField := r.schema.Field(column)
	for _, row := range data {
		if !isField {
			out = append(out, cast.ToString(row[0]))
			continue
		}
		if row[0] == nil {
			out = append(out, nil)
			continue
		}
		v, err := decodeAny(f, row[0])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	r.log.Info("Column loaded", zap.String("column", column), zap.Int("rows", len(out)))
	return out, nil
}

// Save upserts e. Saving is idempotent; the last write wins.
func (r *Repository[E]) Save(ctx context.Context, e E) error {
	rec := e.record()
	if rec.id == "" {
		return apperrors.Internal(apperrors.CodePersistFailed,
			fmt.Sprintf("%s has no id; create it through its repository", r.typ.Name))
	}
	args, err := r.schema.rowArgs(e)
	if err != nil {
		return r.persistErr(err, "save", rec.id)
	}
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, r.schema.UpsertSQL(1), args...); err != nil {
		return r.persistErr(err, "save", rec.id)
	}
	r.dirty.Store(true)
	metrics.RecordRowsWritten(r.typ.Name, "save", 1)
	r.log.Debug("Entity saved", zap.String("id", rec.id))
	return nil
}

func (r *Repository[E]) persistErr(err error, op, id string) error {
	metrics.RecordPersistError(r.typ.Name, op)
	return apperrors.Wrap(err, apperrors.CodePersistFailed,
		fmt.Sprintf("%s %s %q failed", op, r.typ.Name, id), http.StatusInternalServerError).
		WithParams(map[string]interface{}{"entity": r.typ.Name, "id": id})
}

// Delete removes e from the store (or archives it) and from the identity
// cache, and clears its lifecycle flags. Deleting an instance that is not
// live in the cache logs a warning and does nothing.
func (r *Repository[E]) Delete(ctx context.Context, e E, opts DeleteOptions) error {
	rec := e.record()
	if !r.cache.holds(e) {
		r.log.Warn("Entity already deleted, instance is detached", zap.String("id", rec.id))
		return nil
	}
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}
	sql := r.schema.DeleteSQL(1)
	if opts.Archive {
		sql = r.schema.ArchiveSQL(1)
	}
	if _, err := exec.Exec(ctx, sql, rec.id); err != nil {
		return r.persistErr(err, "delete", rec.id)
	}
	r.finishDelete(ctx, e, opts)
	r.log.Info("Entity deleted", zap.String("id", rec.id), zap.Bool("archive", opts.Archive))
	return nil
}

// finishDelete runs the post-statement steps shared by Delete and DeleteAll.
func (r *Repository[E]) finishDelete(ctx context.Context, e E, opts DeleteOptions) {
	if !opts.KeepFiles && r.typ.RemoveFiles != nil {
		if err := r.typ.RemoveFiles(ctx, e); err != nil {
			r.log.Error("Exception ignored removing entity files", zap.String("id", e.record().id), zap.Error(err))
		}
	}
	r.cache.remove(e)
	op := "delete"
	if opts.Archive {
		op = "archive"
	}
	metrics.RecordRowsWritten(r.typ.Name, op, 1)
	rec := e.record()
	rec.autoSave = false
	rec.autoDelete = false
	r.dirty.Store(true)
}

// Cached reports whether e is the live instance for its id.
func (r *Repository[E]) Cached(e E) bool { return r.cache.holds(e) }

// CacheLen returns the number of live instances.
func (r *Repository[E]) CacheLen() int { return r.cache.len() }

// Evict drops e from the identity cache without touching the store; the
// next load builds a fresh instance.
func (r *Repository[E]) Evict(e E) { r.cache.remove(e) }

// ClearCache drops every live instance.
func (r *Repository[E]) ClearCache() { r.cache.clear() }

// ClearData deletes every row of the table and clears the cache.
func (r *Repository[E]) ClearData(ctx context.Context) error {
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, fmt.Sprintf(`DELETE FROM "%s"`, r.typ.Name)); err != nil {
		return r.persistErr(err, "clear", "*")
	}
	r.cache.clear()
	r.dirty.Store(true)
	r.log.Warn("Table data cleared")
	return nil
}

// DeleteRow deletes one row by id, bypassing the entity lifecycle, and
// clears the cache so later loads see fresh rows.
func (r *Repository[E]) DeleteRow(ctx context.Context, id string) error {
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, r.schema.DeleteSQL(1), id); err != nil {
		return r.persistErr(err, "delete", id)
	}
	r.cache.clear()
	r.dirty.Store(true)
	r.log.Info("Row deleted", zap.String("id", id))
	return nil
}

// PurgeArchived removes archive tombstones, all of them or only those with
// the given ids, so the ids can be reused. It returns the rows removed.
func (r *Repository[E]) PurgeArchived(ctx context.Context, ids ...string) (int64, error) {
	exec, err := r.executor(ctx)
	if err != nil {
		return 0, err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	n, err := exec.Exec(ctx, r.schema.purgeSQL(len(ids)), args...)
	if err != nil {
		return 0, r.persistErr(err, "purge", strings.Join(ids, ","))
	}
	if n > 0 {
		r.dirty.Store(true)
	}
	r.log.Info("Archived rows purged", zap.Int64("rows", n))
	return n, nil
}

// Dirty reports whether the table changed since the last MarkClean.
func (r *Repository[E]) Dirty() bool { return r.dirty.Load() }

// MarkClean resets the dirty flag, typically after a backup.
func (r *Repository[E]) MarkClean() { r.dirty.Store(false) }

// AsMap returns id and every persisted field of e keyed by column name.
func (r *Repository[E]) AsMap(e E) map[string]any {
	m := make(map[string]any, len(r.schema.Fields)+1)
	m["id"] = e.record().id
	for _, f := range r.schema.Fields {
		m[f.Name] = fieldValue(e, f).Interface()
	}
	return m
}

// Info renders e as a human-readable block.
func (r *Repository[E]) Info(e E) string {
	bar := strings.Repeat("_", 80)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n%s:\n", bar, r.typ.Name)
	fmt.Fprintf(&b, " - id: %s\n", e.record().id)
	for _, f := range r.schema.Fields {
		fmt.Fprintf(&b, " - %s: %v\n", f.Name, fieldValue(e, f).Interface())
	}
	b.WriteString(bar + "\n")
	return b.String()
}

func (r *Repository[E]) flushSaves(ctx context.Context) error {
	pending := r.cache.snapshot(func(e E) bool { return e.record().autoSave })
	if len(pending) == 0 {
		return nil
	}
	c := r.Collection(pending...)
	err := c.SaveAll(ctx, r.pc.BatchSize())
	for _, e := range pending {
		e.record().autoSave = false
	}
	return err
}

func (r *Repository[E]) flushDeletes(ctx context.Context) error {
	pending := r.cache.snapshot(func(e E) bool { return e.record().autoDelete })
	if len(pending) == 0 {
		return nil
	}
	return r.Collection(pending...).DeleteAll(ctx, DeleteOptions{})
}
