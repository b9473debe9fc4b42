package mongo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
	"github.com/operon-io/operon/pkg/registry"
)

// record is the stored document shape.
type record struct {
	ID         string   `bson:"_id"`
	Collection string   `bson:"collection"`
	Data       bson.Raw `bson:"data"`
}

var byID = bson.D{{Key: "_id", Value: 1}}

type mongoTx struct {
	store *Store
}

func (t *mongoTx) Execute(ctx context.Context, operation op.Operation, prev engine.Result) (engine.Result, error) {
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
		return nil, engine.NewBadPlanError(fmt.Sprintf("mongo target cannot execute %s", operation.Kind()))
	}
}

func (t *mongoTx) create(ctx context.Context, c op.Create) (engine.Result, error) {
	if len(c.Data) == 0 {
		return []any{}, nil
	}
	coll, err := collectionFor(c.Type, c.Data)
	if err != nil {
		return nil, err
	}

	docs := make([]any, 0, len(c.Data))
	out := make([]any, 0, len(c.Data))
	for _, item := range c.Data {
		item = withGeneratedID(item)
		raw, err := t.store.marshalData(item)
		if err != nil {
			return nil, err
		}
		id := idFromRaw(raw)
		if id == "" {
			id = uuid.NewString()
		}
		docs = append(docs, record{ID: id, Collection: coll, Data: raw})
		out = append(out, item)
	}
	if _, err := t.store.coll.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", coll, err)
	}
	return out, nil
}

func (t *mongoTx) read(ctx context.Context, r op.Read) (engine.Result, error) {
	if p, ok := r.Index.(index.Path); ok {
		return t.readPath(ctx, r, p)
	}
	if _, ok := r.Index.(index.Vector); ok {
		return nil, engine.NewUnsupportedIndexError(t.store.name, index.KindVector.String())
	}
	if r.Type == nil {
		return nil, engine.NewBadPlanError("read carries no type")
	}

	filter, err := compileIndexFilter(r.Index)
	if err != nil {
		return nil, engine.NewBadPlanError(err.Error())
	}
	decode, err := t.store.decoderFor(r.Type)
	if err != nil {
		return nil, err
	}

	coll := collectionName(r.Type)
	cur, err := t.store.coll.Find(ctx, scopedFilter(coll, filter), options.Find().SetSort(byID))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", coll, err)
	}
	return &mongoCursor{cur: cur, decode: decode}, nil
}

func (t *mongoTx) readPath(ctx context.Context, r op.Read, p index.Path) (engine.Result, error) {
	coll, id, ok := strings.Cut(string(p), "/")
	if !ok || coll == "" || id == "" {
		return nil, engine.NewBadPlanError(fmt.Sprintf("path %q must be collection/id", p))
	}

	var rec record
	err := t.store.coll.FindOne(ctx, bson.M{"_id": id, "collection": coll}).Decode(&rec)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	decode, err := t.store.decoderFor(r.Type)
	if err != nil {
		return nil, err
	}
	return decode(rec.ID, rec.Data)
}

func (t *mongoTx) update(ctx context.Context, u op.Update, prev engine.Result) (engine.Result, error) {
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
	filter, err := compileIndexFilter(u.Index)
	if err != nil {
		return nil, engine.NewBadPlanError(err.Error())
	}
	ids, err := t.selectIDs(ctx, scopedFilter(coll, filter))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", coll, err)
	}
	if len(ids) == 0 {
		return []any{}, nil
	}

	switch p := u.Patch.(type) {
	case op.Fields:
		set := bson.M{}
		for k, v := range p {
			set["data."+k] = v
		}
		_, err := t.store.coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$set": set})
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", coll, err)
		}
	case op.Apply:
		if err := t.applyToDocs(ctx, u.Type, ids, p); err != nil {
			return nil, err
		}
	}
	return t.selectByIDs(ctx, u.Type, ids)
}

// applyToDocs reads each selected document, applies the function patch
// in process, and writes the result back by id.
func (t *mongoTx) applyToDocs(ctx context.Context, typ reflect.Type, ids []string, patch op.Apply) error {
	decode, err := t.store.decoderFor(typ)
	if err != nil {
		return err
	}
	for _, id := range ids {
		var rec record
		if err := t.store.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		item, err := decode(rec.ID, rec.Data)
		if err != nil {
			return err
		}
		patched, err := op.ApplyPatch(patch, item)
		if err != nil {
			return err
		}
		raw, err := t.store.marshalData(patched)
		if err != nil {
			return err
		}
		if _, err := t.store.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"data": raw}}); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
	}
	return nil
}

// updateFed patches the items the previous step produced and writes
// them back, correlating documents field by field since fed items
// carry no row id.
func (t *mongoTx) updateFed(ctx context.Context, u op.Update, prev engine.Result) (engine.Result, error) {
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
		oldRaw, err := t.store.marshalData(item)
		if err != nil {
			return nil, err
		}
		filter, err := matchItemFilter(coll, oldRaw)
		if err != nil {
			return nil, err
		}
		newRaw, err := t.store.marshalData(patched)
		if err != nil {
			return nil, err
		}
		if _, err := t.store.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"data": newRaw}}); err != nil {
			return nil, fmt.Errorf("update %s: %w", coll, err)
		}
		out = append(out, patched)
	}
	return out, nil
}

func (t *mongoTx) delete(ctx context.Context, d op.Delete, prev engine.Result) (engine.Result, error) {
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
	filter, err := compileIndexFilter(d.Index)
	if err != nil {
		return nil, engine.NewBadPlanError(err.Error())
	}
	ids, err := t.selectIDs(ctx, scopedFilter(coll, filter))
	if err != nil {
		return nil, fmt.Errorf("delete from %s: %w", coll, err)
	}
	if len(ids) == 0 {
		return []any{}, nil
	}

	deleted, err := t.selectByIDs(ctx, d.Type, ids)
	if err != nil {
		return nil, err
	}
	if _, err := t.store.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("delete from %s: %w", coll, err)
	}
	return deleted, nil
}

func (t *mongoTx) deleteFed(ctx context.Context, d op.Delete, prev engine.Result) (engine.Result, error) {
	items, isList := itemList(prev)
	if !isList {
		items = []any{prev}
	}
	for _, item := range items {
		coll, err := collectionFor(d.Type, []any{item})
		if err != nil {
			return nil, err
		}
		raw, err := t.store.marshalData(item)
		if err != nil {
			return nil, err
		}
		filter, err := matchItemFilter(coll, raw)
		if err != nil {
			return nil, err
		}
		if _, err := t.store.coll.DeleteOne(ctx, filter); err != nil {
			return nil, fmt.Errorf("delete from %s: %w", coll, err)
		}
	}
	return append([]any(nil), items...), nil
}

func (t *mongoTx) selectIDs(ctx context.Context, filter bson.M) ([]string, error) {
	cur, err := t.store.coll.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(byID))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var rec struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		ids = append(ids, rec.ID)
	}
	return ids, cur.Err()
}

func (t *mongoTx) selectByIDs(ctx context.Context, typ reflect.Type, ids []string) ([]any, error) {
	decode, err := t.store.decoderFor(typ)
	if err != nil {
		return nil, err
	}
	cur, err := t.store.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(byID))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []any{}
	for cur.Next(ctx) {
		var rec record
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		item, err := decode(rec.ID, rec.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, cur.Err()
}

// driverCursor is the slice of *mongo.Cursor the adapter needs.
type driverCursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// mongoCursor adapts a driver cursor to the engine's cursor. It is
// only valid inside the session that produced it; the executor drains
// it before the scope closes.
type mongoCursor struct {
	cur    driverCursor
	decode recordDecoder
}

func (c *mongoCursor) Next(ctx context.Context) (any, bool, error) {
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	var rec record
	if err := c.cur.Decode(&rec); err != nil {
		return nil, false, err
	}
	item, err := c.decode(rec.ID, rec.Data)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (c *mongoCursor) Close() error { return c.cur.Close(context.Background()) }

type recordDecoder func(id string, data bson.Raw) (any, error)

// decoderFor resolves how documents of a collection decode back into
// user items: through the registry's storage type when a mapping
// exists, directly into the user type otherwise.
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

	return func(id string, data bson.Raw) (any, error) {
		var item any
		if decodeType == nil {
			m := map[string]any{}
			if err := bson.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("decode record %s: %w", id, err)
			}
			item = m
		} else {
			v := reflect.New(decodeType)
			if err := bson.Unmarshal(data, v.Interface()); err != nil {
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

func (s *Store) marshalData(item any) (bson.Raw, error) {
	storage, err := s.toStorage(item)
	if err != nil {
		return nil, err
	}
	data, err := bson.Marshal(storage)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return bson.Raw(data), nil
}

// withGeneratedID gives map items an id before they persist. Non-map
// items keep their shape; the document id is taken from their "id"
// field when present and generated otherwise.
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

func idFromRaw(data bson.Raw) string {
	if id, ok := data.Lookup("id").StringValueOK(); ok {
		return id
	}
	return ""
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
