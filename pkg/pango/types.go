package pango

import (
	"fmt"
	"strings"
	"sync"
)

// TypeID indexes a type in a Registry.
type TypeID uint32

type Kind uint8

const (
	KindPrimitive Kind = iota
	KindStruct
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field is one named member of a struct type. Offset is -1 once any
// earlier member is dynamically sized.
type Field struct {
	Name   string
	Type   TypeID
	Offset int64
}

// Type describes the byte layout implied by a schema. Types are immutable
// once registered.
type Type struct {
	ID   TypeID
	Name string
	Kind Kind

	// SizeBytes is the total width of a fixed-size type and zero otherwise.
	SizeBytes uint64

	Fields []Field

	// Elem and Count describe arrays. Count is zero for variable-length
	// sequences.
	Elem  TypeID
	Count uint64

	fixed bool
}

// IsFixedSize reports whether every value of the type has the same width.
// Frames of fixed-size types are written without a length prefix.
func (t *Type) IsFixedSize() bool {
	return t.fixed
}

func (t *Type) String() string {
	if t.fixed {
		return fmt.Sprintf("%s (%s, %d bytes)", t.Name, t.Kind, t.SizeBytes)
	}
	return fmt.Sprintf("%s (%s, dynamic)", t.Name, t.Kind)
}

type primitive struct {
	name  string
	size  uint64
	fixed bool
}

var primitives = []primitive{
	{"bool", 1, true},
	{"char", 1, true},
	{"int8", 1, true},
	{"uint8", 1, true},
	{"int16", 2, true},
	{"uint16", 2, true},
	{"int32", 4, true},
	{"uint32", 4, true},
	{"int64", 8, true},
	{"uint64", 8, true},
	{"float32", 4, true},
	{"float64", 8, true},
	{"string", 0, false},
	{"bytes", 0, false},
}

// Registry maps qualified names to types. A qualified name is a namespace
// prefix (see Namespace) followed by a type name; primitives live in the
// empty namespace. Registry is safe for concurrent use, so a single
// registry may back several writers. Every mutating call either succeeds
// completely or leaves the registry unchanged.
type Registry struct {
	mu    sync.Mutex
	types []*Type
	names map[string]TypeID

	// defs holds the canonical schema text of every aux type name.
	defs map[string]string
}

// NewRegistry returns a registry holding only the built-in primitives.
func NewRegistry() *Registry {
	r := &Registry{
		names: make(map[string]TypeID, len(primitives)),
		defs:  make(map[string]string),
	}
	for _, p := range primitives {
		r.insertLocked(&Type{
			Name:      p.name,
			Kind:      KindPrimitive,
			SizeBytes: p.size,
			fixed:     p.fixed,
		})
	}
	return r
}

// Len reports the number of distinct types, primitives included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

// AddTypes registers every member of the JSON object auxTypes as
// namespace+name. Members may reference each other regardless of order.
// Re-adding a name with the same layout is a no-op; a different layout is
// ErrMalformedMetadata.
func (r *Registry) AddTypes(namespace string, auxTypes []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := newResolver(r, namespace)
	if err := res.addAux(auxTypes); err != nil {
		res.rollback()
		return err
	}
	return nil
}

// CreateOrGetType resolves an inline schema to a type id, registering it
// when absent. Structurally identical schemas in the same namespace resolve
// to the same id.
func (r *Registry) CreateOrGetType(namespace string, schema []byte) (TypeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := newResolver(r, namespace)
	id, err := res.resolveSchema(schema)
	if err != nil {
		res.rollback()
		return 0, err
	}
	return id, nil
}

// DefineSource registers the aux types of a source, resolves its frame
// schema and binds the namespace's frame alias to the result, all under
// one lock. On error nothing is registered.
func (r *Registry) DefineSource(namespace string, auxTypes, frameSchema []byte) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := newResolver(r, namespace)
	if err := res.addAux(auxTypes); err != nil {
		res.rollback()
		return nil, err
	}
	id, err := res.resolveSchema(frameSchema)
	if err != nil {
		res.rollback()
		return nil, err
	}
	res.bind(namespace+FrameAlias, id, "")
	delete(r.defs, namespace+FrameAlias)
	return r.types[id], nil
}

// AddAlias binds qualifiedName to an existing type. An existing binding of
// the same name is replaced; the type it pointed at is unaffected.
func (r *Registry) AddAlias(qualifiedName string, id TypeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) >= len(r.types) {
		return fmt.Errorf("%w: id %d", ErrUnknownType, id)
	}
	r.names[qualifiedName] = id
	delete(r.defs, qualifiedName)
	return nil
}

// GetTypeID looks up a qualified name.
func (r *Registry) GetTypeID(qualifiedName string) (TypeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.names[qualifiedName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, qualifiedName)
	}
	return id, nil
}

// Type returns the descriptor for id.
func (r *Registry) Type(id TypeID) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if int(id) >= len(r.types) {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownType, id)
	}
	return r.types[id], nil
}

// Names returns every qualified name bound in namespace, sorted by type id.
func (r *Registry) Names(namespace string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for name := range r.names {
		if namespace == "" || strings.HasPrefix(name, namespace) {
			out = append(out, name)
		}
	}
	sortNamesByID(out, r.names)
	return out
}

func (r *Registry) insertLocked(t *Type) TypeID {
	id := TypeID(len(r.types))
	t.ID = id
	r.types = append(r.types, t)
	r.names[t.Name] = id
	return id
}

func (r *Registry) lookupLocked(namespace, name string) (TypeID, bool) {
	if id, ok := r.names[namespace+name]; ok {
		return id, true
	}
	id, ok := r.names[name]
	return id, ok
}
