package builtins

import (
	"barn/db"
	"barn/types"
	"bufio"
	"bytes"
)

// collectDbrefs walks a value recursively and records every dbref
// reachable from it, so pack() can prepend a translation entry for
// each one that has a process-wide name bound.
func collectDbrefs(v types.Value, seen map[types.ObjID]bool) {
	switch val := v.(type) {
	case types.ObjValue:
		seen[val.ID()] = true
	case types.ListValue:
		for _, e := range val.Elements() {
			collectDbrefs(e, seen)
		}
	case types.MapValue:
		for _, kv := range val.Pairs() {
			collectDbrefs(kv[0], seen)
			collectDbrefs(kv[1], seen)
		}
	case types.WaifValue:
		seen[val.Class()] = true
		seen[val.Owner()] = true
	}
}

// builtinPack: pack(value) -> buffer
// Serializes value into a portable byte buffer: a name-translation
// table for every reachable dbref that has a bound name, followed by
// the value itself in the database's tagged-value encoding.
func builtinPack(ctx *types.TaskContext, args []types.Value, store *db.Store) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}

	seen := make(map[types.ObjID]bool)
	collectDbrefs(args[0], seen)

	var buf bytes.Buffer
	w := db.NewWriter(&buf, store)

	named := make([][2]interface{}, 0)
	for id := range seen {
		if name, ok := lookupObjName(id); ok {
			named = append(named, [2]interface{}{id, name})
		}
	}
	if err := w.WriteValue(types.NewInt(int64(len(named)))); err != nil {
		return types.Err(types.E_FILE)
	}
	for _, entry := range named {
		id := entry[0].(types.ObjID)
		name := entry[1].(string)
		if err := w.WriteValue(types.NewObj(id)); err != nil {
			return types.Err(types.E_FILE)
		}
		if err := w.WriteValue(types.NewStr(name)); err != nil {
			return types.Err(types.E_FILE)
		}
	}
	if err := w.WriteValue(args[0]); err != nil {
		return types.Err(types.E_FILE)
	}
	if err := w.Flush(); err != nil {
		return types.Err(types.E_FILE)
	}

	return types.Ok(types.NewBuffer(buf.Bytes()))
}

// builtinUnpack: unpack(buffer) -> value
// Reverses pack(): reads the translation table, remaps each packed
// dbref to whatever local dbref its name is bound to, then decodes the
// value. Fails with E_NAMENF if any packed name has no local binding;
// the error does not carry the list of unresolved names.
func builtinUnpack(ctx *types.TaskContext, args []types.Value) types.Result {
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	buf, ok := args[0].(types.BufferValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	r := bufio.NewReader(bytes.NewReader(buf.Bytes()))
	database := &db.Database{Version: 17}

	countVal, err := database.ReadValue(r)
	if err != nil {
		return types.Err(types.E_INVARG)
	}
	count, ok := countVal.(types.IntValue)
	if !ok {
		return types.Err(types.E_INVARG)
	}

	remap := make(map[types.ObjID]types.ObjID)
	var unresolved []types.Value
	for i := int64(0); i < count.Val; i++ {
		packedObjVal, err := database.ReadValue(r)
		if err != nil {
			return types.Err(types.E_INVARG)
		}
		nameVal, err := database.ReadValue(r)
		if err != nil {
			return types.Err(types.E_INVARG)
		}
		packedObj, ok1 := packedObjVal.(types.ObjValue)
		name, ok2 := nameVal.(types.StrValue)
		if !ok1 || !ok2 {
			return types.Err(types.E_INVARG)
		}
		if localID, found := lookupNamedObj(name.Value()); found {
			remap[packedObj.ID()] = localID
		} else {
			unresolved = append(unresolved, name)
		}
	}
	if len(unresolved) > 0 {
		return types.Err(types.E_NAMENF)
	}

	value, err := database.ReadValue(r)
	if err != nil {
		return types.Err(types.E_INVARG)
	}

	return types.Ok(remapDbrefs(value, remap))
}

// remapDbrefs substitutes every dbref in remap throughout value,
// leaving unnamed dbrefs exactly as packed.
func remapDbrefs(v types.Value, remap map[types.ObjID]types.ObjID) types.Value {
	switch val := v.(type) {
	case types.ObjValue:
		if newID, ok := remap[val.ID()]; ok {
			return types.NewObj(newID)
		}
		return val
	case types.ListValue:
		out := make([]types.Value, val.Len())
		for i, e := range val.Elements() {
			out[i] = remapDbrefs(e, remap)
		}
		return types.NewList(out)
	case types.MapValue:
		pairs := val.Pairs()
		out := make([][2]types.Value, len(pairs))
		for i, kv := range pairs {
			out[i] = [2]types.Value{remapDbrefs(kv[0], remap), remapDbrefs(kv[1], remap)}
		}
		return types.NewMap(out)
	default:
		return v
	}
}
