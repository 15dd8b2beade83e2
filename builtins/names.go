package builtins

import (
	"barn/types"
	"sync"
)

// nameTable is the process-wide dbref naming registry used by the NAME
// opcode family (set_name/del_name/get_name) and by pack()/unpack() to
// translate dbrefs into portable names and back. It has no relation to
// an object's "name" property; it is closer to ToastStunt's corified
// $foo registry, just exposed under its own builtin names.
var nameTable = struct {
	mu     sync.RWMutex
	byName map[string]types.ObjID
	byObj  map[types.ObjID]string
}{
	byName: make(map[string]types.ObjID),
	byObj:  make(map[types.ObjID]string),
}

func lookupNamedObj(name string) (types.ObjID, bool) {
	nameTable.mu.RLock()
	defer nameTable.mu.RUnlock()
	id, ok := nameTable.byName[name]
	return id, ok
}

func lookupObjName(id types.ObjID) (string, bool) {
	nameTable.mu.RLock()
	defer nameTable.mu.RUnlock()
	name, ok := nameTable.byObj[id]
	return name, ok
}

// builtinSetName: set_name(name, object) -> none
// Wizard-only. Binds name to object in the process-wide name table,
// replacing any previous binding of that name.
func builtinSetName(ctx *types.TaskContext, args []types.Value) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 2 {
		return types.Err(types.E_ARGS)
	}
	name, ok := args[0].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	obj, ok := args[1].(types.ObjValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	nameTable.mu.Lock()
	if old, had := nameTable.byName[name.Value()]; had {
		delete(nameTable.byObj, old)
	}
	nameTable.byName[name.Value()] = obj.ID()
	nameTable.byObj[obj.ID()] = name.Value()
	nameTable.mu.Unlock()

	return types.Ok(types.NewInt(0))
}

// builtinDelName: del_name(name) -> none
// Wizard-only. Unbinds name. No error if the name was never bound.
func builtinDelName(ctx *types.TaskContext, args []types.Value) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	name, ok := args[0].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	nameTable.mu.Lock()
	if id, had := nameTable.byName[name.Value()]; had {
		delete(nameTable.byObj, id)
		delete(nameTable.byName, name.Value())
	}
	nameTable.mu.Unlock()

	return types.Ok(types.NewInt(0))
}

// builtinGetName: get_name(name) -> object
// Resolves a bound name to its dbref, or E_NAMENF if unbound.
func builtinGetName(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	name, ok := args[0].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	id, found := lookupNamedObj(name.Value())
	if !found {
		return types.Err(types.E_NAMENF)
	}
	return types.Ok(types.NewObj(id))
}
