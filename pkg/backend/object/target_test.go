package object

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-io/operon/pkg/backend/memory"
	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
	"github.com/operon-io/operon/pkg/registry"
)

type entry struct {
	Title string `json:"title"`
	Words int    `json:"words"`
}

// seqKeys numbers keys in creation order so tests can address them.
func seqKeys() KeyFunc {
	n := 0
	return func(collection string, item any) string {
		n++
		return fmt.Sprintf("%s/%03d", collection, n)
	}
}

func newTestTarget(t *testing.T, opts ...Option) (*Target, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	opts = append([]Option{WithKeyFunc(seqKeys())}, opts...)
	return New("blobs", store, opts...), store
}

func execute(t *testing.T, tgt *Target, operation op.Operation, prev engine.Result) engine.Result {
	t.Helper()
	var out engine.Result
	err := tgt.Transaction(context.Background(), func(ctx context.Context, tx engine.Tx) error {
		res, err := tx.Execute(ctx, operation, prev)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	require.NoError(t, err)
	return out
}

func getString(t *testing.T, s Store, key string) string {
	t.Helper()
	body, _, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(data)
}

func seedEntries(t *testing.T, tgt *Target) {
	t.Helper()
	execute(t, tgt, op.NewCreate[entry](
		entry{Title: "outline", Words: 25},
		entry{Title: "drafts", Words: 30},
	), nil)
}

func TestTarget_CreateReturnsPairs(t *testing.T) {
	tgt, store := newTestTarget(t)

	res := execute(t, tgt, op.NewCreate[entry](
		entry{Title: "outline", Words: 25},
		entry{Title: "drafts", Words: 30},
	), nil)

	pairs := res.([]any)
	require.Len(t, pairs, 2)
	first := pairs[0].(engine.Pair)
	assert.Equal(t, "entry/001", first.Address)
	assert.Equal(t, entry{Title: "outline", Words: 25}, first.Item)
	assert.Equal(t, "entry/002", pairs[1].(engine.Pair).Address)

	assert.Contains(t, getString(t, store, "entry/001"), `"title":"outline"`)
}

func TestTarget_CreateEmptyIsNoOp(t *testing.T) {
	tgt, store := newTestTarget(t)

	res := execute(t, tgt, op.NewCreate[entry](), nil)
	assert.Equal(t, []any{}, res)

	infos, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestTarget_ReadByPath(t *testing.T) {
	tgt, _ := newTestTarget(t)
	seedEntries(t, tgt)

	res := execute(t, tgt, op.NewRead[entry](index.Path("entry/002")), nil)
	assert.Equal(t, entry{Title: "drafts", Words: 30}, res)
}

func TestTarget_ReadMissingPath(t *testing.T) {
	tgt, _ := newTestTarget(t)

	err := tgt.Transaction(context.Background(), func(ctx context.Context, tx engine.Tx) error {
		_, err := tx.Execute(ctx, op.NewRead[entry](index.Path("entry/404")), nil)
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTarget_ReadByPrefix(t *testing.T) {
	tgt, _ := newTestTarget(t)
	seedEntries(t, tgt)

	res := execute(t, tgt, op.NewRead[entry](index.Params{"prefix": "entry/"}), nil)
	items := res.([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "outline", items[0].(entry).Title)
	assert.Equal(t, "drafts", items[1].(entry).Title)
}

func TestTarget_ReadAllListsOnlyTheCollection(t *testing.T) {
	tgt, _ := newTestTarget(t)
	seedEntries(t, tgt)
	execute(t, tgt, op.NewCreate[payload](payload{Title: "other", Body: "x"}), nil)

	res := execute(t, tgt, op.NewReadAll[entry](), nil)
	items := res.([]any)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.IsType(t, entry{}, item)
	}
}

func TestTarget_ParamsNeedPrefix(t *testing.T) {
	tgt, _ := newTestTarget(t)

	for name, idx := range map[string]index.Params{
		"wrong field":       {"title": "outline"},
		"extra field":       {"prefix": "entry/", "title": "x"},
		"non string prefix": {"prefix": 7},
	} {
		t.Run(name, func(t *testing.T) {
			err := tgt.Transaction(context.Background(), func(ctx context.Context, tx engine.Tx) error {
				_, err := tx.Execute(ctx, op.NewRead[entry](idx), nil)
				return err
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "prefix")
		})
	}
}

func TestTarget_UnsupportedIndexes(t *testing.T) {
	tgt, _ := newTestTarget(t)

	for name, tc := range map[string]struct {
		operation op.Operation
		kind      string
	}{
		"vector read":   {op.NewRead[entry](index.NewVector([]float32{1, 0})), "vector"},
		"native read":   {op.NewRead[entry](index.NewNativeQuery("words > 10")), "native_query"},
		"native delete": {op.NewDelete[entry](index.NewNativeQuery("words > 10")), "native_query"},
	} {
		t.Run(name, func(t *testing.T) {
			err := tgt.Transaction(context.Background(), func(ctx context.Context, tx engine.Tx) error {
				_, err := tx.Execute(ctx, tc.operation, nil)
				return err
			})
			assert.True(t, engine.IsContractError(err, engine.CodeUnsupportedIndex))
			assert.Contains(t, err.Error(), tc.kind)
		})
	}
}

func TestTarget_UpdateRejected(t *testing.T) {
	tgt, _ := newTestTarget(t)
	seedEntries(t, tgt)

	err := tgt.Transaction(context.Background(), func(ctx context.Context, tx engine.Tx) error {
		_, err := tx.Execute(ctx, op.NewUpdate[entry](
			index.Path("entry/001"), op.Fields{"words": 1},
		), nil)
		return err
	})
	assert.True(t, engine.IsContractError(err, engine.CodeBadPlan))
}

func TestTarget_DeleteByPath(t *testing.T) {
	tgt, store := newTestTarget(t)
	seedEntries(t, tgt)

	res := execute(t, tgt, op.NewDelete[entry](index.Path("entry/001")), nil)
	assert.Equal(t, entry{Title: "outline", Words: 25}, res)

	_, err := store.Head(context.Background(), "entry/001")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Head(context.Background(), "entry/002")
	assert.NoError(t, err)
}

func TestTarget_DeleteByPrefix(t *testing.T) {
	tgt, store := newTestTarget(t)
	seedEntries(t, tgt)

	res := execute(t, tgt, op.NewDelete[entry](index.Params{"prefix": "entry/"}), nil)
	require.Len(t, res, 2)

	infos, err := store.List(context.Background(), "entry/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestTarget_FedDeleteByAddress(t *testing.T) {
	tgt, store := newTestTarget(t)

	pairs := execute(t, tgt, op.NewCreate[entry](
		entry{Title: "outline", Words: 25},
		entry{Title: "drafts", Words: 30},
	), nil)

	res := execute(t, tgt, op.NewDelete[entry](nil), pairs)
	items := res.([]any)
	require.Len(t, items, 2)
	assert.Equal(t, entry{Title: "outline", Words: 25}, items[0])

	infos, err := store.List(context.Background(), "entry/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestTarget_FedDeleteNeedsAddresses(t *testing.T) {
	tgt, _ := newTestTarget(t)

	err := tgt.Transaction(context.Background(), func(ctx context.Context, tx engine.Tx) error {
		_, err := tx.Execute(ctx, op.NewDelete[entry](nil), []any{entry{Title: "outline"}})
		return err
	})
	assert.True(t, engine.IsContractError(err, engine.CodeBadResult))
}

func TestTarget_RegistryRoundTrip(t *testing.T) {
	type ticket struct {
		Code     string `json:"code"`
		Priority int    `json:"priority"`
	}
	type ticketRow struct {
		Code     string `json:"code"`
		Priority string `json:"priority"`
	}

	reg := registry.New()
	require.NoError(t, registry.RegisterMapping(reg,
		func(tk ticket) (ticketRow, error) {
			return ticketRow{Code: tk.Code, Priority: strconv.Itoa(tk.Priority)}, nil
		},
		func(r ticketRow) (ticket, error) {
			p, err := strconv.Atoi(r.Priority)
			if err != nil {
				return ticket{}, err
			}
			return ticket{Code: r.Code, Priority: p}, nil
		},
	))

	tgt, store := newTestTarget(t, WithRegistry(reg))
	execute(t, tgt, op.NewCreate[ticket](ticket{Code: "ab", Priority: 2}), nil)

	// The object holds the storage shape.
	assert.Contains(t, getString(t, store, "ticket/001"), `"priority":"2"`)

	res := execute(t, tgt, op.NewRead[ticket](index.Path("ticket/001")), nil)
	assert.Equal(t, ticket{Code: "ab", Priority: 2}, res)
}

func TestTarget_CompressedObjects(t *testing.T) {
	codec, err := NewZstdCodec(JSONCodec{})
	require.NoError(t, err)
	tgt, store := newTestTarget(t, WithCodec(codec))

	execute(t, tgt, op.NewCreate[entry](entry{Title: "outline", Words: 25}), nil)

	raw := getString(t, store, "entry/001")
	assert.NotContains(t, raw, `"title"`)

	res := execute(t, tgt, op.NewRead[entry](index.Path("entry/001")), nil)
	assert.Equal(t, entry{Title: "outline", Words: 25}, res)
}

func TestTarget_EngineIntegration(t *testing.T) {
	exec := engine.New()

	t.Run("create hands addresses downstream", func(t *testing.T) {
		tgt, _ := newTestTarget(t)

		n := op.Compose(
			op.Bind(op.NewCreate[entry](
				entry{Title: "outline", Words: 25},
				entry{Title: "drafts", Words: 30},
			), tgt),
			op.NewMap(func(item any, _ int) (any, error) {
				return item.(engine.Pair).Address, nil
			}),
		)

		res, err := exec.Execute(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, []any{"entry/001", "entry/002"}, res)
	})

	t.Run("create then fed delete in one scope", func(t *testing.T) {
		tgt, store := newTestTarget(t)

		n := op.Chain(tgt,
			op.NewCreate[entry](entry{Title: "outline", Words: 25}),
			op.NewDelete[entry](nil),
		)

		res, err := exec.Execute(context.Background(), n)
		require.NoError(t, err)
		require.Len(t, res, 1)

		infos, err := store.List(context.Background(), "entry/")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("items cross from memory to blobs", func(t *testing.T) {
		mem := memory.New("mem")
		mem.Seed(entry{Title: "drafts", Words: 120})
		tgt, store := newTestTarget(t)

		n := op.Compose(
			op.Bind(op.NewReadAll[entry](), mem),
			op.Bind(op.NewCreate[entry](), tgt),
		)

		res, err := exec.Execute(context.Background(), n)
		require.NoError(t, err)
		require.Len(t, res, 1)

		assert.Contains(t, getString(t, store, "entry/001"), `"title":"drafts"`)
	})

	t.Run("path read feeds in process steps", func(t *testing.T) {
		tgt, _ := newTestTarget(t)
		seedEntries(t, tgt)

		n := op.Compose(
			op.Bind(op.NewRead[entry](index.Path("entry/001")), tgt),
			op.NewMap(func(item any, _ int) (any, error) {
				return item.(entry).Words, nil
			}),
		)

		res, err := exec.Execute(context.Background(), n)
		require.NoError(t, err)
		assert.Equal(t, 25, res)
	})
}
