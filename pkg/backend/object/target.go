package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
	"github.com/operon-io/operon/pkg/registry"
)

// KeyFunc derives the storage key for an item headed into the store.
// collection is the item's resolved collection name.
type KeyFunc func(collection string, item any) string

func defaultKey(collection string, item any) string {
	return collection + "/" + uuid.NewString()
}

// Target adapts a blob Store to the engine. Creates put one encoded
// object per item and return Pairs carrying the generated keys; reads
// resolve a Path to a single object or list a key prefix. Objects are
// immutable once written: updates are rejected, and a replace is a
// delete followed by a create.
type Target struct {
	name  string
	store Store
	codec Codec
	keys  KeyFunc
	reg   *registry.Registry
}

// Option configures a Target.
type Option func(*Target)

// WithCodec sets the document codec. The default is JSONCodec.
func WithCodec(c Codec) Option {
	return func(t *Target) { t.codec = c }
}

// WithKeyFunc sets how keys are generated for created items.
func WithKeyFunc(fn KeyFunc) Option {
	return func(t *Target) { t.keys = fn }
}

// WithRegistry sets the type registry used to convert items between
// their user shape and their stored shape.
func WithRegistry(r *registry.Registry) Option {
	return func(t *Target) { t.reg = r }
}

// New wraps store as an engine target.
func New(name string, store Store, opts ...Option) *Target {
	t := &Target{
		name:  name,
		store: store,
		codec: JSONCodec{},
		keys:  defaultKey,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Target) Name() string { return t.name }

// Transaction runs fn against the store. Blob stores commit each
// object individually; see the package doc for what that means when
// the scope fails partway.
func (t *Target) Transaction(ctx context.Context, fn func(context.Context, engine.Tx) error) error {
	return fn(ctx, &objTx{target: t})
}

type objTx struct {
	target *Target
}

func (tx *objTx) Execute(ctx context.Context, operation op.Operation, prev engine.Result) (engine.Result, error) {
	switch o := operation.(type) {
	case op.Create:
		return tx.create(ctx, o)
	case op.Read:
		return tx.read(ctx, o)
	case op.Delete:
		return tx.delete(ctx, o, prev)
	case op.Update:
		return nil, engine.NewBadPlanError("object target cannot update in place; delete and recreate")
	default:
		return nil, engine.NewBadPlanError(fmt.Sprintf("object target cannot execute %s", operation.Kind()))
	}
}

func (tx *objTx) create(ctx context.Context, c op.Create) (engine.Result, error) {
	if len(c.Data) == 0 {
		return []any{}, nil
	}
	coll, err := collectionFor(c.Type, c.Data)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(c.Data))
	for _, item := range c.Data {
		key := tx.target.keys(coll, item)
		data, err := tx.target.encode(item)
		if err != nil {
			return nil, err
		}
		if _, err := tx.target.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("put %s: %w", key, err)
		}
		out = append(out, engine.Pair{Item: item, Address: key})
	}
	return out, nil
}

func (tx *objTx) read(ctx context.Context, r op.Read) (engine.Result, error) {
	decode, err := tx.target.decoderFor(r.Type)
	if err != nil {
		return nil, err
	}
	switch idx := r.Index.(type) {
	case index.Path:
		key := string(idx)
		data, err := tx.getBytes(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		return decode(key, data)
	case index.Params:
		prefix, err := prefixParam(idx)
		if err != nil {
			return nil, err
		}
		items, _, err := tx.readPrefix(ctx, prefix, decode)
		if err != nil {
			return nil, err
		}
		return items, nil
	case nil:
		if r.Type == nil {
			return nil, engine.NewBadPlanError("read carries no type")
		}
		items, _, err := tx.readPrefix(ctx, collectionName(r.Type)+"/", decode)
		if err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, engine.NewUnsupportedIndexError(tx.target.name, idx.Kind().String())
	}
}

func (tx *objTx) delete(ctx context.Context, d op.Delete, prev engine.Result) (engine.Result, error) {
	if d.NeedsPrevious() || prev != nil {
		if prev == nil {
			return nil, engine.NewNeedsPreviousError("delete")
		}
		return tx.deleteFed(ctx, prev)
	}

	decode, err := tx.target.decoderFor(d.Type)
	if err != nil {
		return nil, err
	}
	switch idx := d.Index.(type) {
	case index.Path:
		key := string(idx)
		data, err := tx.getBytes(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", key, err)
		}
		item, err := decode(key, data)
		if err != nil {
			return nil, err
		}
		if err := tx.target.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("delete %s: %w", key, err)
		}
		return item, nil
	case index.Params:
		prefix, err := prefixParam(idx)
		if err != nil {
			return nil, err
		}
		return tx.deletePrefix(ctx, prefix, decode)
	default:
		return nil, engine.NewUnsupportedIndexError(tx.target.name, idx.Kind().String())
	}
}

// deleteFed removes the objects a previous create produced. Plain
// items carry no key, so only Pair results can feed a delete here.
func (tx *objTx) deleteFed(ctx context.Context, prev engine.Result) (engine.Result, error) {
	items, ok := itemList(prev)
	if !ok {
		items = []any{prev}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		p, ok := item.(engine.Pair)
		if !ok {
			return nil, engine.NewBadResultError("previous result carries no addresses; feed a delete from an object create or use a path index")
		}
		if err := tx.target.store.Delete(ctx, p.Address); err != nil {
			return nil, fmt.Errorf("delete %s: %w", p.Address, err)
		}
		out = append(out, p.Item)
	}
	return out, nil
}

func (tx *objTx) deletePrefix(ctx context.Context, prefix string, decode objectDecoder) (engine.Result, error) {
	items, keys, err := tx.readPrefix(ctx, prefix, decode)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err := tx.target.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return items, nil
}

// readPrefix lists and decodes every object under prefix. Keys come
// back in the store's lexical list order.
func (tx *objTx) readPrefix(ctx context.Context, prefix string, decode objectDecoder) ([]any, []string, error) {
	infos, err := tx.target.store.List(ctx, prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	items := make([]any, 0, len(infos))
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		data, err := tx.getBytes(ctx, info.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", info.Key, err)
		}
		item, err := decode(info.Key, data)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
		keys = append(keys, info.Key)
	}
	return items, keys, nil
}

func (tx *objTx) getBytes(ctx context.Context, key string) ([]byte, error) {
	body, _, err := tx.target.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// prefixParam extracts the prefix from a params index. Objects have
// no fields to match on, so prefix is the only parameter understood.
func prefixParam(p index.Params) (string, error) {
	prefix, ok := p["prefix"].(string)
	if !ok || len(p) != 1 {
		return "", fmt.Errorf("object target indexes by key only; use a params index with a single prefix field")
	}
	return prefix, nil
}

type objectDecoder func(key string, data []byte) (any, error)

func (t *Target) decoderFor(rt reflect.Type) (objectDecoder, error) {
	decodeType := rt
	var from registry.Converter
	if t.reg != nil && rt != nil {
		reg, err := t.reg.ForUserType(rt, nil)
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

	return func(key string, data []byte) (any, error) {
		var item any
		if decodeType == nil {
			m := map[string]any{}
			if err := t.codec.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			item = m
		} else {
			v := reflect.New(decodeType)
			if err := t.codec.Unmarshal(data, v.Interface()); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			item = v.Elem().Interface()
		}
		if from != nil {
			return from(item)
		}
		return item, nil
	}, nil
}

// encode converts an item to its storage shape and marshals it.
func (t *Target) encode(item any) ([]byte, error) {
	storage := item
	if t.reg != nil {
		reg, err := t.reg.ForUserType(reflect.TypeOf(item), nil)
		switch {
		case err == nil:
			storage, err = reg.ToStorage(item)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, registry.ErrNoMapping):
			// Unmapped types persist as themselves.
		default:
			return nil, err
		}
	}
	return t.codec.Marshal(storage)
}

func collectionFor(t reflect.Type, items []any) (string, error) {
	if t == nil && len(items) > 0 {
		t = reflect.TypeOf(items[0])
	}
	if t == nil {
		return "", engine.NewBadPlanError("create carries no type and no data")
	}
	return collectionName(t), nil
}

// collectionName keys a type's objects. Lowercased so keys read like
// paths.
func collectionName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return strings.ToLower(t.Name())
	}
	return strings.ToLower(t.String())
}

func itemList(v any) ([]any, bool) {
	switch vv := v.(type) {
	case nil:
		return nil, false
	case []any:
		return vv, true
	case []byte, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
