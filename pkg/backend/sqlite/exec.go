package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
	"github.com/operon-io/operon/pkg/registry"
)

type sqlTx struct {
	store *Store
	tx    *sql.Tx
}

func (t *sqlTx) Execute(ctx context.Context, operation op.Operation, prev engine.Result) (engine.Result, error) {
	switch ot := operation.(type) {
	case op.Create:
		return t.create(ctx, ot)
	case op.Read:
		return t.read(ctx, ot)
	case op.Update:
		return t.update(ctx, ot, prev)
	case op.Delete:
		return t.delete(ctx, ot, prev)
	default:
		return nil, engine.NewBadPlanError(fmt.Sprintf("sqlite target cannot execute %s", operation.Kind()))
	}
}

func (t *sqlTx) create(ctx context.Context, c op.Create) (engine.Result, error) {
	if len(c.Data) == 0 {
		return []any{}, nil
	}
	coll, err := collectionFor(c.Type, c.Data)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(c.Data))
	for _, item := range c.Data {
		item = withGeneratedID(item)
		storage, err := t.store.toStorage(item)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(storage)
		if err != nil {
			return nil, fmt.Errorf("marshal item for %s: %w", coll, err)
		}
		id := idFromData(data)
		if id == "" {
			id = uuid.NewString()
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO records (collection, id, data)
			VALUES (?, ?, ?)
		`, coll, id, string(data))
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", coll, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *sqlTx) read(ctx context.Context, r op.Read) (engine.Result, error) {
	if p, ok := r.Index.(index.Path); ok {
		return t.readPath(ctx, r, p)
	}
	if _, ok := r.Index.(index.Vector); ok {
		return nil, engine.NewUnsupportedIndexError(t.store.name, index.KindVector.String())
	}
	if r.Type == nil {
		return nil, engine.NewBadPlanError("read carries no type")
	}

	where, args, err := compileIndex(r.Index)
	if err != nil {
		return nil, engine.NewBadPlanError(err.Error())
	}

	decode, err := t.store.decoderFor(r.Type)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, selectSQL(where), append([]any{collectionName(r.Type)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collectionName(r.Type), err)
	}
	return &rowsCursor{rows: rows, decode: decode}, nil
}

// readPath resolves a collection/id address to the single item stored
// there. A missing row surfaces the driver's no-rows error.
func (t *sqlTx) readPath(ctx context.Context, r op.Read, p index.Path) (engine.Result, error) {
	coll, id, ok := strings.Cut(string(p), "/")
	if !ok || coll == "" || id == "" {
		return nil, engine.NewBadPlanError(fmt.Sprintf("path %q must be collection/id", p))
	}

	var data []byte
	err := t.tx.QueryRowContext(ctx, `
		SELECT data FROM records WHERE collection = ? AND id = ?
	`, coll, id).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	decode, err := t.store.decoderFor(r.Type)
	if err != nil {
		return nil, err
	}
	return decode(id, data)
}

func (t *sqlTx) update(ctx context.Context, u op.Update, prev engine.Result) (engine.Result, error) {
	if u.Patch == nil {
		return nil, engine.NewBadPlanError("update carries no patch")
	}
	if u.NeedsPrevious() || prev != nil {
		if prev == nil {
			return nil, engine.NewNeedsPreviousError("update")
		}
		return t.updateFed(ctx, u, prev)
	}
	if u.Type == nil {
		return nil, engine.NewBadPlanError("update carries no type")
	}

	coll := collectionName(u.Type)
	where, args, err := compileIndex(u.Index)
	if err != nil {
		return nil, engine.NewBadPlanError(err.Error())
	}
	ids, err := t.selectIDs(ctx, coll, where, args)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []any{}, nil
	}

	switch p := u.Patch.(type) {
	case op.Fields:
		// One statement: merge the patch document into every
		// selected record.
		patchJSON, err := json.Marshal(map[string]any(p))
		if err != nil {
			return nil, fmt.Errorf("marshal patch: %w", err)
		}
		in, inArgs := inClause(ids)
		stmtArgs := append([]any{string(patchJSON), coll}, inArgs...)
		_, err = t.tx.ExecContext(ctx,
			`UPDATE records SET data = json_patch(data, ?) WHERE collection = ? AND id IN `+in,
			stmtArgs...)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", coll, err)
		}
	case op.Apply:
		if err := t.applyToRows(ctx, u.Type, coll, ids, p); err != nil {
			return nil, err
		}
	}

	return t.selectByIDs(ctx, u.Type, coll, ids)
}

// applyToRows reads each selected record, applies the function patch
// in process, and writes the result back by id.
func (t *sqlTx) applyToRows(ctx context.Context, typ reflect.Type, coll string, ids []string, patch op.Apply) error {
	decode, err := t.store.decoderFor(typ)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var data []byte
		if err := t.tx.QueryRowContext(ctx,
			`SELECT data FROM records WHERE collection = ? AND id = ?`, coll, id,
		).Scan(&data); err != nil {
			return fmt.Errorf("update %s/%s: %w", coll, id, err)
		}
		item, err := decode(id, data)
		if err != nil {
			return err
		}
		patched, err := op.ApplyPatch(patch, item)
		if err != nil {
			return err
		}
		storage, err := t.store.toStorage(patched)
		if err != nil {
			return err
		}
		newData, err := json.Marshal(storage)
		if err != nil {
			return fmt.Errorf("marshal patched item: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE records SET data = ? WHERE collection = ? AND id = ?`,
			string(newData), coll, id,
		); err != nil {
			return fmt.Errorf("update %s/%s: %w", coll, id, err)
		}
	}
	return nil
}

// updateFed patches the items the previous step produced and writes
// them back, correlating rows by their stored document since fed
// items carry no row id.
func (t *sqlTx) updateFed(ctx context.Context, u op.Update, prev engine.Result) (engine.Result, error) {
	items, isList := itemList(prev)
	if !isList {
		items = []any{prev}
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		patched, err := op.ApplyPatch(u.Patch, item)
		if err != nil {
			return nil, err
		}
		coll, err := collectionFor(u.Type, []any{item})
		if err != nil {
			return nil, err
		}
		oldData, err := t.store.marshalItem(item)
		if err != nil {
			return nil, err
		}
		newData, err := t.store.marshalItem(patched)
		if err != nil {
			return nil, err
		}
		if _, err := t.tx.ExecContext(ctx,
			`UPDATE records SET data = ? WHERE collection = ? AND data = ?`,
			newData, coll, oldData,
		); err != nil {
			return nil, fmt.Errorf("update %s: %w", coll, err)
		}
		out = append(out, patched)
	}
	return out, nil
}

func (t *sqlTx) delete(ctx context.Context, d op.Delete, prev engine.Result) (engine.Result, error) {
	if d.NeedsPrevious() || prev != nil {
		if prev == nil {
			return nil, engine.NewNeedsPreviousError("delete")
		}
		return t.deleteFed(ctx, d, prev)
	}
	if d.Type == nil {
		return nil, engine.NewBadPlanError("delete carries no type")
	}

	coll := collectionName(d.Type)
	where, args, err := compileIndex(d.Index)
	if err != nil {
		return nil, engine.NewBadPlanError(err.Error())
	}
	ids, err := t.selectIDs(ctx, coll, where, args)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []any{}, nil
	}

	deleted, err := t.selectByIDs(ctx, d.Type, coll, ids)
	if err != nil {
		return nil, err
	}

	in, inArgs := inClause(ids)
	stmtArgs := append([]any{coll}, inArgs...)
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id IN `+in, stmtArgs...,
	); err != nil {
		return nil, fmt.Errorf("delete from %s: %w", coll, err)
	}
	return deleted, nil
}

func (t *sqlTx) deleteFed(ctx context.Context, d op.Delete, prev engine.Result) (engine.Result, error) {
	items, isList := itemList(prev)
	if !isList {
		items = []any{prev}
	}
	for _, item := range items {
		coll, err := collectionFor(d.Type, []any{item})
		if err != nil {
			return nil, err
		}
		data, err := t.store.marshalItem(item)
		if err != nil {
			return nil, err
		}
		if _, err := t.tx.ExecContext(ctx,
			`DELETE FROM records WHERE collection = ? AND data = ?`, coll, data,
		); err != nil {
			return nil, fmt.Errorf("delete from %s: %w", coll, err)
		}
	}
	return append([]any(nil), items...), nil
}

func (t *sqlTx) selectIDs(ctx context.Context, coll, where string, args []any) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM records WHERE collection = ? AND `+where+stableOrderKey,
		append([]any{coll}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", coll, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *sqlTx) selectByIDs(ctx context.Context, typ reflect.Type, coll string, ids []string) ([]any, error) {
	decode, err := t.store.decoderFor(typ)
	if err != nil {
		return nil, err
	}
	in, inArgs := inClause(ids)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, data FROM records WHERE collection = ? AND id IN `+in+stableOrderKey,
		append([]any{coll}, inArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", coll, err)
	}
	defer rows.Close()

	out := []any{}
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		item, err := decode(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(placeholders, ", ") + ")", args
}

// rowsCursor streams records out of an open result set. It is only
// valid inside the transaction that produced it; the executor drains
// it before the scope closes.
type rowsCursor struct {
	rows   *sql.Rows
	decode recordDecoder
}

func (c *rowsCursor) Next(ctx context.Context) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		c.rows.Close()
		return nil, false, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	var id string
	var data []byte
	if err := c.rows.Scan(&id, &data); err != nil {
		return nil, false, err
	}
	item, err := c.decode(id, data)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (c *rowsCursor) Close() error { return c.rows.Close() }

type recordDecoder func(id string, data []byte) (any, error)

// decoderFor resolves how rows of a collection decode back into user
// items: through the registry's storage type when a mapping exists,
// directly into the user type otherwise.
func (s *Store) decoderFor(t reflect.Type) (recordDecoder, error) {
	decodeType := t
	var from registry.Converter
	if s.reg != nil && t != nil {
		reg, err := s.reg.ForUserType(t, nil)
		switch {
		case err == nil:
			decodeType = reg.StorageType
			from = reg.FromStorage
		case errors.Is(err, registry.ErrNoMapping):
			// Unmapped types persist as themselves.
		default:
			return nil, err
		}
	}

	return func(id string, data []byte) (any, error) {
		var item any
		if decodeType == nil {
			m := map[string]any{}
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("decode record %s: %w", id, err)
			}
			item = m
		} else {
			v := reflect.New(decodeType)
			if err := json.Unmarshal(data, v.Interface()); err != nil {
				return nil, fmt.Errorf("decode record %s: %w", id, err)
			}
			item = v.Elem().Interface()
		}
		if from != nil {
			return from(item)
		}
		return item, nil
	}, nil
}

// toStorage converts a user item to its storage shape when the
// registry maps it; unmapped items persist as-is.
func (s *Store) toStorage(item any) (any, error) {
	if s.reg == nil {
		return item, nil
	}
	reg, err := s.reg.ForUserType(reflect.TypeOf(item), nil)
	if errors.Is(err, registry.ErrNoMapping) {
		return item, nil
	}
	if err != nil {
		return nil, err
	}
	return reg.ToStorage(item)
}

func (s *Store) marshalItem(item any) (string, error) {
	storage, err := s.toStorage(item)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(storage)
	if err != nil {
		return "", fmt.Errorf("marshal item: %w", err)
	}
	return string(data), nil
}

// withGeneratedID gives map items an id before they persist, so the
// caller can address them later. Non-map items keep their shape; the
// row id is taken from their JSON "id" field when present and
// generated otherwise.
func withGeneratedID(item any) any {
	m, ok := item.(map[string]any)
	if !ok {
		return item
	}
	if _, has := m["id"]; has {
		return item
	}
	withID := make(map[string]any, len(m)+1)
	for k, v := range m {
		withID[k] = v
	}
	withID["id"] = uuid.NewString()
	return withID
}

func idFromData(data []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.ID
}

func collectionFor(t reflect.Type, items []any) (string, error) {
	if t != nil {
		return collectionName(t), nil
	}
	if len(items) > 0 {
		return collectionName(reflect.TypeOf(items[0])), nil
	}
	return "", engine.NewBadPlanError("create carries no type and no data")
}

func collectionName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.Name() != "" {
		return strings.ToLower(t.Name())
	}
	return strings.ToLower(t.String())
}

func itemList(v any) ([]any, bool) {
	switch pv := v.(type) {
	case nil:
		return nil, false
	case []any:
		return pv, true
	case []byte:
		return nil, false
	case string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
