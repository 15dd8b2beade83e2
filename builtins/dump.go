package builtins

import (
	"barn/db"
	"barn/types"
	"fmt"
	"os"
	"strings"
)

// getBinaryCache returns the store's shared object cache (db/cache.go).
// binary_dump()/binary_backup() are a separate, spec-named persistence
// path alongside the store's existing single-file checkpoint
// (dump_database()); both read the same live Store and the same cache
// the bytecode VM pins objects through on every verb dispatch
// (vm/operations.go), they just write different on-disk formats.
func getBinaryCache(store *db.Store) *db.ObjectCache {
	return store.Cache()
}

// builtinBinaryDump: binary_dump() -> none
// Wizard-only. Writes every object to the canonical two-file binary
// store and fsyncs it.
func builtinBinaryDump(ctx *types.TaskContext, args []types.Value, store *db.Store) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}
	if err := getBinaryCache(store).Dump(); err != nil {
		return types.Err(types.E_FILE)
	}
	return types.Ok(types.NewInt(0))
}

// builtinBinaryBackup: binary_backup() -> none
// Wizard-only. Duplicates the canonical binary files under backup/.
func builtinBinaryBackup(ctx *types.TaskContext, args []types.Value, store *db.Store) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}
	cache := getBinaryCache(store)
	if err := cache.Sync(); err != nil {
		return types.Err(types.E_FILE)
	}
	if err := cache.Backup("backup"); err != nil {
		return types.Err(types.E_FILE)
	}
	return types.Ok(types.NewInt(0))
}

// builtinTextDump: text_dump() -> none
// Wizard-only. Walks ancestors first so parent declaration order is
// respected, emitting "parent #n" / "object #n" / "var class name
// literal" / "method name ... ." blocks to textdump.
func builtinTextDump(ctx *types.TaskContext, args []types.Value, store *db.Store) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 0 {
		return types.Err(types.E_ARGS)
	}

	var out strings.Builder
	written := make(map[types.ObjID]bool)

	var emit func(id types.ObjID)
	emit = func(id types.ObjID) {
		if written[id] {
			return
		}
		obj := store.Get(id)
		if obj == nil {
			return
		}
		written[id] = true
		for _, p := range obj.Parents {
			emit(p)
		}

		for _, p := range obj.Parents {
			fmt.Fprintf(&out, "parent #%d\n", int64(p))
		}
		fmt.Fprintf(&out, "object #%d\n", int64(id))

		for _, name := range obj.PropOrder {
			prop := obj.Properties[name]
			if prop == nil || prop.Clear {
				continue
			}
			fmt.Fprintf(&out, "var #%d %s %s\n", int64(id), name, prop.Value.String())
		}

		for _, verb := range obj.VerbList {
			fmt.Fprintf(&out, "method %s\n", verb.Name)
			for _, line := range verb.Code {
				out.WriteString(line)
				out.WriteByte('\n')
			}
			out.WriteString(".\n")
		}
	}

	for _, obj := range store.All() {
		emit(obj.ID)
	}

	if err := os.WriteFile("textdump", []byte(out.String()), 0644); err != nil {
		return types.Err(types.E_FILE)
	}
	return types.Ok(types.NewInt(0))
}
