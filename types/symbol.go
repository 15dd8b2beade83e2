package types

// SymValue is an interned identifier used as a first-class value (message
// names passed around as data, variable names in reflective code, and so
// on). Unlike ErrValue, which names one of the fixed error kinds, a symbol
// can be any identifier the running program interns.
//
// SymValue owns one reference on the global identifier table for as long
// as a copy of it is reachable; Retain/Release pair with dup/discard on
// the table the same way container copies do.
type SymValue struct {
	id IdentID
}

// NewSym interns name and returns a symbol value holding one reference.
func NewSym(name string) SymValue {
	return SymValue{id: GlobalIdents().Intern(name)}
}

// SymFromID wraps an already-interned id, taking an additional reference.
func SymFromID(id IdentID) SymValue {
	GlobalIdents().Dup(id)
	return SymValue{id: id}
}

func (s SymValue) Type() TypeCode { return TYPE_SYM }

func (s SymValue) String() string {
	name, ok := GlobalIdents().Name(s.id)
	if !ok {
		return "'<freed>"
	}
	return "'" + name
}

func (s SymValue) Truthy() bool { return true }

func (s SymValue) Equal(other Value) bool {
	o, ok := other.(SymValue)
	if !ok {
		return false
	}
	return s.id == o.id
}

// ID returns the interned identifier backing this symbol.
func (s SymValue) ID() IdentID { return s.id }

// Name returns the underlying string.
func (s SymValue) Name() string {
	name, _ := GlobalIdents().Name(s.id)
	return name
}

// Release drops this value's reference on the identifier table. Callers
// that copy a SymValue by value (the normal Go assignment) must call
// Retain on the copy and Release on each independently-discarded copy to
// keep the refcount balanced, mirroring the container dup/discard rule.
func (s SymValue) Release() { GlobalIdents().Discard(s.id) }

// Retain takes an additional reference, for use when a copy of the value
// outlives the scope that produced it (e.g. storing it in a variable slot
// kept past the current frame).
func (s SymValue) Retain() SymValue {
	GlobalIdents().Dup(s.id)
	return s
}
