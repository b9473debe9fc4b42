package cli

import (
	"context"
	"fmt"

	"github.com/operon-io/operon/internal/config"
	"github.com/operon-io/operon/pkg/backend/memory"
	"github.com/operon-io/operon/pkg/backend/mongo"
	"github.com/operon-io/operon/pkg/backend/object"
	"github.com/operon-io/operon/pkg/backend/sqlite"
	"github.com/operon-io/operon/pkg/op"
)

// BuildTargets opens every configured target. The returned close
// function releases them all; call it even when a later step fails.
func BuildTargets(ctx context.Context, cfg config.Config) (map[string]op.Target, func(), error) {
	targets := make(map[string]op.Target, len(cfg.Targets))
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	for _, tc := range cfg.Targets {
		target, closer, err := buildTarget(ctx, tc)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("target %q: %w", tc.Name, err)
		}
		targets[tc.Name] = target
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	return targets, closeAll, nil
}

func buildTarget(ctx context.Context, tc config.Target) (op.Target, func() error, error) {
	switch tc.Kind {
	case "memory":
		var opts []memory.Option
		if tc.VectorField != "" {
			opts = append(opts, memory.WithVectorField(tc.VectorField))
		}
		return memory.New(tc.Name, opts...), nil, nil

	case "sqlite":
		st, err := sqlite.Open(tc.Path, sqlite.WithName(tc.Name))
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case "mongo":
		var opts []mongo.Option
		opts = append(opts, mongo.WithName(tc.Name))
		if tc.Database != "" {
			opts = append(opts, mongo.WithDatabase(tc.Database))
		}
		if tc.Collection != "" {
			opts = append(opts, mongo.WithCollection(tc.Collection))
		}
		st, err := mongo.Open(ctx, tc.URI, opts...)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return st.Close(context.Background()) }, nil

	case "object":
		store, err := buildObjectStore(ctx, tc.Object)
		if err != nil {
			return nil, nil, err
		}
		if tc.Object.Metrics {
			store = object.NewInstrumented(store)
		}
		var opts []object.Option
		if tc.Object.Compress {
			codec, err := object.NewZstdCodec(object.JSONCodec{})
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, object.WithCodec(codec))
		}
		return object.New(tc.Name, store, opts...), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown target kind %q", tc.Kind)
	}
}

func buildObjectStore(ctx context.Context, oc config.Object) (object.Store, error) {
	switch oc.Store {
	case "memory":
		return object.NewMemoryStore(), nil
	case "fs":
		return object.NewFSStore(oc.Root)
	case "s3":
		st, err := object.NewS3Store(object.S3Config{
			Endpoint:  oc.Endpoint,
			Bucket:    oc.Bucket,
			AccessKey: oc.AccessKey,
			SecretKey: oc.SecretKey,
			Region:    oc.Region,
			UseSSL:    oc.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown object store %q", oc.Store)
	}
}
