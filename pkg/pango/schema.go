package pango

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
)

// Schemas are JSON values:
//
//	"float32"                      named type (namespace first, then primitives)
//	{"x": "float32", "y": ...}     struct, members in document order
//	["float32", 3]                 fixed-count array
//	["uint8"]                      variable-length sequence

// maxTypeSize bounds the width of a fixed-size type so that member offsets
// fit in an int64.
const maxTypeSize = math.MaxInt64

type pendingType struct {
	raw      []byte
	dataType jsonparser.ValueType
}

type binding struct {
	id  TypeID
	def string
	ok  bool
}

// resolver turns schema values into registered types. It runs with the
// registry lock held and records every change it makes, so a failed
// resolution can be rolled back and leaves the registry untouched.
type resolver struct {
	r  *Registry
	ns string

	// Aux types of this resolution, keyed by unqualified name.
	pending  map[string]pendingType
	order    []string
	done     map[string]TypeID
	visiting map[string]bool

	// Undo log.
	ntypes int
	prev   map[string]binding
}

func newResolver(r *Registry, namespace string) *resolver {
	return &resolver{
		r:        r,
		ns:       namespace,
		pending:  make(map[string]pendingType),
		done:     make(map[string]TypeID),
		visiting: make(map[string]bool),
		ntypes:   len(r.types),
		prev:     make(map[string]binding),
	}
}

// addAux queues the members of the JSON object auxTypes for registration
// and resolves every one of them.
func (res *resolver) addAux(auxTypes []byte) error {
	_, dataType, _, err := jsonparser.Get(auxTypes)
	if err != nil {
		return fmt.Errorf("%w: aux types: %v", ErrMalformedMetadata, err)
	}
	if dataType != jsonparser.Object {
		return fmt.Errorf("%w: aux types must be a JSON object, got %s", ErrMalformedMetadata, dataType)
	}

	err = jsonparser.ObjectEach(auxTypes, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		name, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		if _, dup := res.pending[name]; dup {
			return fmt.Errorf("duplicate type name %q", name)
		}
		res.pending[name] = pendingType{raw: value, dataType: dataType}
		res.order = append(res.order, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: aux types: %v", ErrMalformedMetadata, err)
	}

	for _, name := range res.order {
		if _, err := res.lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// lookup resolves a type reference, registering a pending aux type on
// first use.
func (res *resolver) lookup(name string) (TypeID, error) {
	if id, ok := res.done[name]; ok {
		return id, nil
	}
	if p, ok := res.pending[name]; ok {
		return res.define(name, p)
	}
	if id, ok := res.r.lookupLocked(res.ns, name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q in namespace %q", ErrUnknownType, name, res.ns)
}

// define registers the aux type name. A name that already exists must
// describe the same layout; a reader and a writer sharing nothing but the
// file would otherwise disagree on frame sizes.
func (res *resolver) define(name string, p pendingType) (TypeID, error) {
	qname := res.ns + name
	if res.visiting[name] {
		return 0, fmt.Errorf("%w: recursive type %q", ErrMalformedMetadata, qname)
	}
	def, err := definition(p)
	if err != nil {
		return 0, err
	}

	existing, exists := res.r.names[qname]
	if exists && res.r.defs[qname] == def {
		res.done[name] = existing
		return existing, nil
	}

	res.visiting[name] = true
	defer delete(res.visiting, name)

	id, err := res.build(qname, p.raw, p.dataType)
	if err != nil {
		return 0, err
	}
	if exists && existing != id {
		if res.r.layoutLocked(existing) != res.r.layoutLocked(id) {
			return 0, fmt.Errorf("%w: type %q redefined with a different layout", ErrMalformedMetadata, qname)
		}
		id = existing
	}
	// A plain reference ("angle": "float32") binds a second name.
	res.bind(qname, id, def)
	res.done[name] = id
	return id, nil
}

func (res *resolver) resolveSchema(schema []byte) (TypeID, error) {
	value, dataType, _, err := jsonparser.Get(schema)
	if err != nil {
		return 0, fmt.Errorf("%w: schema: %v", ErrMalformedMetadata, err)
	}
	return res.resolveValue(value, dataType)
}

func (res *resolver) resolveValue(value []byte, dataType jsonparser.ValueType) (TypeID, error) {
	switch dataType {
	case jsonparser.String:
		name, err := jsonparser.ParseString(value)
		if err != nil {
			return 0, fmt.Errorf("%w: type name: %v", ErrMalformedMetadata, err)
		}
		return res.lookup(name)
	case jsonparser.Object, jsonparser.Array:
		key, err := anonymousKey(res.ns, value)
		if err != nil {
			return 0, err
		}
		if id, ok := res.r.names[key]; ok {
			return id, nil
		}
		return res.build(key, value, dataType)
	default:
		return 0, fmt.Errorf("%w: schema must be a string, object or array, got %s", ErrMalformedMetadata, dataType)
	}
}

// build registers a new type called name from a schema value. String
// schemas do not create types; they resolve to the referenced id.
func (res *resolver) build(name string, value []byte, dataType jsonparser.ValueType) (TypeID, error) {
	switch dataType {
	case jsonparser.String:
		return res.resolveValue(value, dataType)
	case jsonparser.Object:
		t, err := res.buildStruct(name, value)
		if err != nil {
			return 0, err
		}
		return res.insert(t), nil
	case jsonparser.Array:
		t, err := res.buildArray(name, value)
		if err != nil {
			return 0, err
		}
		return res.insert(t), nil
	default:
		return 0, fmt.Errorf("%w: type %q must be a string, object or array, got %s", ErrMalformedMetadata, name, dataType)
	}
}

func (res *resolver) buildStruct(name string, value []byte) (*Type, error) {
	t := &Type{Name: name, Kind: KindStruct, fixed: true}
	var offset uint64

	err := jsonparser.ObjectEach(value, func(key []byte, member []byte, dataType jsonparser.ValueType, _ int) error {
		fieldName, err := jsonparser.ParseString(key)
		if err != nil {
			return fmt.Errorf("%w: field name: %v", ErrMalformedMetadata, err)
		}
		id, err := res.resolveValue(member, dataType)
		if err != nil {
			return fmt.Errorf("field %q of %q: %w", fieldName, name, err)
		}
		ft := res.r.types[id]

		field := Field{Name: fieldName, Type: id, Offset: -1}
		if t.fixed {
			field.Offset = int64(offset)
		}
		t.Fields = append(t.Fields, field)

		if ft.fixed && t.fixed {
			sum, carry := bits.Add64(offset, ft.SizeBytes, 0)
			if carry != 0 || sum > maxTypeSize {
				return fmt.Errorf("%w: struct %q is larger than %d bytes", ErrMalformedMetadata, name, uint64(maxTypeSize))
			}
			offset = sum
		} else {
			t.fixed = false
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if t.fixed {
		t.SizeBytes = offset
	}
	return t, nil
}

func (res *resolver) buildArray(name string, value []byte) (*Type, error) {
	type element struct {
		raw      []byte
		dataType jsonparser.ValueType
	}
	var elems []element
	_, err := jsonparser.ArrayEach(value, func(v []byte, dataType jsonparser.ValueType, _ int, err error) {
		elems = append(elems, element{raw: v, dataType: dataType})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: array type %q: %v", ErrMalformedMetadata, name, err)
	}
	if len(elems) != 1 && len(elems) != 2 {
		return nil, fmt.Errorf("%w: array type %q must be [elem] or [elem, count]", ErrMalformedMetadata, name)
	}

	elemID, err := res.resolveValue(elems[0].raw, elems[0].dataType)
	if err != nil {
		return nil, fmt.Errorf("element of %q: %w", name, err)
	}
	elem := res.r.types[elemID]
	t := &Type{Name: name, Kind: KindArray, Elem: elemID}

	if len(elems) == 1 {
		return t, nil
	}
	if elems[1].dataType != jsonparser.Number {
		return nil, fmt.Errorf("%w: array type %q count must be a number", ErrMalformedMetadata, name)
	}
	count, err := jsonparser.ParseInt(elems[1].raw)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: array type %q has invalid count %s", ErrMalformedMetadata, name, elems[1].raw)
	}
	t.Count = uint64(count)
	if elem.fixed {
		hi, lo := bits.Mul64(elem.SizeBytes, t.Count)
		if hi != 0 || lo > maxTypeSize {
			return nil, fmt.Errorf("%w: array type %q is larger than %d bytes", ErrMalformedMetadata, name, uint64(maxTypeSize))
		}
		t.fixed = true
		t.SizeBytes = lo
	}
	return t, nil
}

func (res *resolver) insert(t *Type) TypeID {
	id := TypeID(len(res.r.types))
	t.ID = id
	res.r.types = append(res.r.types, t)
	res.bind(t.Name, id, "")
	return id
}

// bind points name at id, remembering the previous binding for rollback.
// An empty def keeps the recorded definition of name, if any.
func (res *resolver) bind(name string, id TypeID, def string) {
	if _, seen := res.prev[name]; !seen {
		old, ok := res.r.names[name]
		res.prev[name] = binding{id: old, def: res.r.defs[name], ok: ok}
	}
	res.r.names[name] = id
	if def != "" {
		res.r.defs[name] = def
	}
}

// rollback undoes every change made through the resolver.
func (res *resolver) rollback() {
	for name, b := range res.prev {
		if !b.ok {
			delete(res.r.names, name)
		} else {
			res.r.names[name] = b.id
		}
		if b.def == "" {
			delete(res.r.defs, name)
		} else {
			res.r.defs[name] = b.def
		}
	}
	clear(res.r.types[res.ntypes:])
	res.r.types = res.r.types[:res.ntypes]
}

// definition is the canonical text of an aux type schema.
func definition(p pendingType) (string, error) {
	if p.dataType == jsonparser.String {
		return strconv.Quote(string(p.raw)), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, p.raw); err != nil {
		return "", fmt.Errorf("%w: schema: %v", ErrMalformedMetadata, err)
	}
	return buf.String(), nil
}

// layoutLocked renders the byte layout of id. Two types share a layout
// exactly when their renderings are equal.
func (r *Registry) layoutLocked(id TypeID) string {
	var b strings.Builder
	r.writeLayout(&b, id)
	return b.String()
}

func (r *Registry) writeLayout(b *strings.Builder, id TypeID) {
	t := r.types[id]
	switch t.Kind {
	case KindPrimitive:
		b.WriteString(t.Name)
	case KindStruct:
		b.WriteByte('{')
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(f.Name))
			b.WriteByte(':')
			r.writeLayout(b, f.Type)
		}
		b.WriteByte('}')
	case KindArray:
		b.WriteByte('[')
		r.writeLayout(b, t.Elem)
		if t.Count > 0 || t.fixed {
			b.WriteByte(',')
			b.WriteString(strconv.FormatUint(t.Count, 10))
		}
		b.WriteByte(']')
	}
}

// anonymousKey names an inline composite schema by its compact JSON text,
// which makes CreateOrGetType idempotent for identical schemas.
func anonymousKey(namespace string, value []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return "", fmt.Errorf("%w: schema: %v", ErrMalformedMetadata, err)
	}
	return namespace + buf.String(), nil
}

func sortNamesByID(names []string, ids map[string]TypeID) {
	sort.Slice(names, func(i, j int) bool {
		a, b := ids[names[i]], ids[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}
