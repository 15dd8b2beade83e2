package vm

import (
	"barn/db"
	"barn/types"
	"testing"
)

// newCatchObject creates an object defining a `catch(suberror, traceback,
// offender)` verb whose body is supplied verbatim, for exercising the
// OBJECT_HANDLER hook (core spec §4.5, §8 scenario 6).
func newCatchObject(t *testing.T, store *db.Store, id types.ObjID, catchBody string) *db.Object {
	t.Helper()
	obj := db.NewObject(id, 0)
	obj.Verbs = make(map[string]*db.Verb)
	obj.Verbs["catch"] = &db.Verb{
		Name:  "catch",
		Names: []string{"catch"},
		Owner: 0,
		Perms: db.VerbRead | db.VerbWrite | db.VerbExecute,
		ArgSpec: db.VerbArgs{
			This: "this",
			Prep: "none",
			That: "none",
		},
		Code: []string{catchBody},
	}
	store.Add(obj)
	return obj
}

// TestObjectErrorHandlerReplacesOperand covers core spec §8 scenario 6: a
// value whose class defines catch(suberror, traceback, offender) gets the
// chance to replace itself in a failing binary operation, and the operation
// is retried with the replacement.
func TestObjectErrorHandlerReplacesOperand(t *testing.T) {
	store := db.NewStore()
	obj := newCatchObject(t, store, 1, "return \"0\";")

	eval := NewEvaluatorWithStore(store)
	ctx := types.NewTaskContext()

	result := evalVerbExpr(t, "#1 + \"x\"", eval, ctx)
	if result.IsError() {
		t.Fatalf("expected object handler to recover the error, got %v", result.Error)
	}
	str, ok := result.Val.(types.StrValue)
	if !ok {
		t.Fatalf("expected string result, got %T", result.Val)
	}
	if str.Value() != "0x" {
		t.Errorf("expected \"0x\", got %q", str.Value())
	}
	_ = obj
}

// TestObjectErrorHandlerPropagatesWhenCatchThrows covers the case where the
// catch verb itself raises: the original error must propagate as though no
// handler had been attempted.
func TestObjectErrorHandlerPropagatesWhenCatchThrows(t *testing.T) {
	store := db.NewStore()
	newCatchObject(t, store, 1, "return 1/0;")

	eval := NewEvaluatorWithStore(store)
	ctx := types.NewTaskContext()

	result := evalVerbExpr(t, "#1 + \"x\"", eval, ctx)
	if !result.IsError() {
		t.Fatalf("expected original E_TYPE to propagate, got normal result %v", result.Val)
	}
	if result.Error != types.E_TYPE {
		t.Errorf("expected E_TYPE, got %v", result.Error)
	}
}

// TestObjectErrorHandlerSkippedWithoutCatchVerb ensures ordinary values with
// no catch verb on their class behave exactly as before the hook was added.
func TestObjectErrorHandlerSkippedWithoutCatchVerb(t *testing.T) {
	store := db.NewStore()
	eval := NewEvaluatorWithStore(store)
	ctx := types.NewTaskContext()

	result := evalVerbExpr(t, "{} + 1", eval, ctx)
	if !result.IsError() || result.Error != types.E_TYPE {
		t.Fatalf("expected E_TYPE with no handler, got %v", result)
	}
}
