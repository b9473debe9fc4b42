// Package registry maps user types to storage types and back. Targets
// consult a registry to convert items before persisting them and after
// reading them, and to build named search indexes.
//
// A registry is populated at startup and read-only afterward. The same
// user type may map to several storage types, one per backend shape;
// lookups then need the other side's type to disambiguate.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/operon-io/operon/pkg/index"
)

// Converter translates one item between its user and storage shapes.
type Converter func(any) (any, error)

// Registration binds a user type to a storage type with converters in
// both directions.
type Registration struct {
	UserType    reflect.Type
	StorageType reflect.Type
	ToStorage   Converter
	FromStorage Converter
}

// ErrNoMapping reports a lookup that matched no registration.
var ErrNoMapping = errors.New("no mapping found")

// AmbiguityError reports a lookup that matched several registrations
// and carried no type to disambiguate.
type AmbiguityError struct {
	Type       reflect.Type
	Candidates []reflect.Type
}

func (e *AmbiguityError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.String()
	}
	return fmt.Sprintf("ambiguous mapping for %s: candidates %s; pass the counterpart type to disambiguate",
		e.Type, strings.Join(names, ", "))
}

type indexKey struct {
	dataType reflect.Type
	name     string
}

// Registry holds type mappings and named index factories.
type Registry struct {
	mu      sync.RWMutex
	regs    []Registration
	indexes map[indexKey]index.Factory
	byName  map[string]reflect.Type
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		indexes: make(map[indexKey]index.Factory),
		byName:  make(map[string]reflect.Type),
	}
}

// Register adds a type mapping. Both types and both converters are
// required. The user type's bare name becomes resolvable through
// TypeByName; two distinct types sharing a name cannot both register.
func (r *Registry) Register(reg Registration) error {
	if reg.UserType == nil || reg.StorageType == nil {
		return fmt.Errorf("registration requires both user and storage types")
	}
	if reg.ToStorage == nil || reg.FromStorage == nil {
		return fmt.Errorf("registration for %s requires converters in both directions", reg.UserType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.regs {
		if existing.UserType == reg.UserType && existing.StorageType == reg.StorageType {
			return fmt.Errorf("mapping %s to %s already registered", reg.UserType, reg.StorageType)
		}
	}
	if name := reg.UserType.Name(); name != "" {
		if prev, ok := r.byName[name]; ok && prev != reg.UserType {
			return fmt.Errorf("type name %q already names %s", name, prev)
		} else if !ok {
			r.byName[name] = reg.UserType
		}
	}
	r.regs = append(r.regs, reg)
	return nil
}

// ForUserType finds the registration for a user type. A nil storage
// type is allowed only when exactly one registration matches;
// otherwise the candidates are reported so the caller can pass one.
func (r *Registry) ForUserType(user, storage reflect.Type) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Registration
	for _, reg := range r.regs {
		if reg.UserType != user {
			continue
		}
		if storage != nil && reg.StorageType != storage {
			continue
		}
		matches = append(matches, reg)
	}
	return one(matches, user, storage, func(reg Registration) reflect.Type { return reg.StorageType })
}

// ForStorageType finds the registration for a storage type, with the
// user type as optional disambiguator.
func (r *Registry) ForStorageType(storage, user reflect.Type) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Registration
	for _, reg := range r.regs {
		if reg.StorageType != storage {
			continue
		}
		if user != nil && reg.UserType != user {
			continue
		}
		matches = append(matches, reg)
	}
	return one(matches, storage, user, func(reg Registration) reflect.Type { return reg.UserType })
}

func one(matches []Registration, lookup, disambiguator reflect.Type, other func(Registration) reflect.Type) (Registration, error) {
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if disambiguator != nil {
			return Registration{}, fmt.Errorf("%w for %s with %s", ErrNoMapping, lookup, disambiguator)
		}
		return Registration{}, fmt.Errorf("%w for %s", ErrNoMapping, lookup)
	default:
		candidates := make([]reflect.Type, len(matches))
		for i, m := range matches {
			candidates[i] = other(m)
		}
		return Registration{}, &AmbiguityError{Type: lookup, Candidates: candidates}
	}
}

// RegisterIndex adds a named index factory for a data type. The
// (type, name) pair must be unique.
func (r *Registry) RegisterIndex(dataType reflect.Type, name string, f index.Factory) error {
	if dataType == nil {
		return fmt.Errorf("index %q requires a data type", name)
	}
	if name == "" {
		return fmt.Errorf("index for %s requires a name", dataType)
	}
	if f == nil {
		return fmt.Errorf("index %q for %s requires a factory", name, dataType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := indexKey{dataType: dataType, name: name}
	if _, ok := r.indexes[key]; ok {
		return fmt.Errorf("index %q for %s already registered", name, dataType)
	}
	r.indexes[key] = f
	return nil
}

// Index builds the named index for a data type from args.
func (r *Registry) Index(dataType reflect.Type, name string, args map[string]any) (index.Index, error) {
	r.mu.RLock()
	f, ok := r.indexes[indexKey{dataType: dataType, name: name}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: index %q for %s", ErrNoMapping, name, dataType)
	}
	return f(args)
}

// IndexNames lists the index names registered for a data type, sorted.
func (r *Registry) IndexNames(dataType reflect.Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for key := range r.indexes {
		if key.dataType == dataType {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}

// TypeByName resolves a registered user type by its bare name, the
// form pipeline files refer to types by.
func (r *Registry) TypeByName(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// RegisterMapping registers typed converters between U and S.
func RegisterMapping[U, S any](r *Registry, to func(U) (S, error), from func(S) (U, error)) error {
	if to == nil || from == nil {
		return fmt.Errorf("registration requires converters in both directions")
	}
	return r.Register(Registration{
		UserType:    reflect.TypeFor[U](),
		StorageType: reflect.TypeFor[S](),
		ToStorage: func(v any) (any, error) {
			u, ok := v.(U)
			if !ok {
				return nil, fmt.Errorf("expected %s, got %T", reflect.TypeFor[U](), v)
			}
			return to(u)
		},
		FromStorage: func(v any) (any, error) {
			s, ok := v.(S)
			if !ok {
				return nil, fmt.Errorf("expected %s, got %T", reflect.TypeFor[S](), v)
			}
			return from(s)
		},
	})
}

// Default is the process-wide registry most applications share.
var Default = New()

// Register adds a type mapping to the default registry.
func Register(reg Registration) error { return Default.Register(reg) }

// RegisterIndex adds a named index factory to the default registry.
func RegisterIndex(dataType reflect.Type, name string, f index.Factory) error {
	return Default.RegisterIndex(dataType, name, f)
}
