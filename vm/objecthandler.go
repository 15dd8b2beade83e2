package vm

import (
	"barn/db"
	"barn/task"
	"barn/types"
)

// maxObjectHandlerDepth bounds how deep a chain of catch-verb re-entries may
// go before the handler hook gives up and lets the original error propagate.
// A catch verb that itself triggers the same value-misuse on the same class
// would otherwise recurse without ever hitting the task's tick budget, since
// each retry is a fresh top-level verb call rather than an AST re-evaluation.
const maxObjectHandlerDepth = 50

// catchableHandlerErrors are the value-misuse error kinds eligible for
// object-level interception via a catch verb (core spec §4.5): type errors,
// range errors, and the other "offending value" classes of error. Control
// errors (E_MAXREC, E_VERBNF, E_PERM, ...) are never intercepted this way.
var catchableHandlerErrors = map[types.ErrorCode]bool{
	types.E_TYPE:   true,
	types.E_RANGE:  true,
	types.E_DIV:    true,
	types.E_INVARG: true,
	types.E_INVIND: true,
}

// objectErrorHandlerTarget resolves the dbref whose catch verb, if any, gets
// first refusal on a value-misuse error raised against val: a waif's class
// for frob-like values, the dbref itself for object values, or the type's
// name-bound prototype (#0.<type>_proto) for every other primitive kind,
// matching core spec §4.5's "offending value's class for frobs/dbrefs, or
// the type's name-bound dbref".
func (e *Evaluator) objectErrorHandlerTarget(val types.Value) types.ObjID {
	switch v := val.(type) {
	case types.WaifValue:
		return v.Class()
	case types.ObjValue:
		return v.ID()
	default:
		return e.getPrimitivePrototype(val)
	}
}

// tryObjectErrorHandler implements the OBJECT_HANDLER error-action specifier
// (core spec §4.5, §7): before a value-misuse error raised by an arithmetic,
// indexing, or comparison operation is allowed onto the normal propagation
// path, the offending value's class (if it defines a `catch` verb of the
// right arity, and call depth allows) is given a chance to replace the
// value. It is invoked as catch(suberror, traceback, offending_value); a
// clean return supplies the replacement for the failing opcode's operand,
// and the caller is expected to retry the operation with it. A thrown error,
// a missing/wrong-permission verb, an invalid target, or exhausted handler
// depth all fall through to ordinary propagation (ok == false).
func (e *Evaluator) tryObjectErrorHandler(ctx *types.TaskContext, errCode types.ErrorCode, offending types.Value) (replacement types.Value, ok bool) {
	if !catchableHandlerErrors[errCode] {
		return nil, false
	}

	target := e.objectErrorHandlerTarget(offending)
	if target == types.ObjNothing || !e.store.Valid(target) {
		return nil, false
	}

	verb, _, err := db.ResolveMethodCompat(e.store, target, "catch")
	if err != nil || verb == nil {
		return nil, false
	}
	if !verb.Perms.Has(db.VerbExecute) {
		return nil, false
	}

	if t, isTask := ctx.Task.(*task.Task); isTask {
		if len(t.GetCallStack()) >= maxObjectHandlerDepth {
			return nil, false
		}
	}

	args := []types.Value{
		types.NewErr(errCode),
		e.buildTracebackList(ctx),
		offending,
	}

	result := e.CallVerb(target, "catch", args, ctx)
	if result.Flow == types.FlowException {
		return nil, false
	}
	if result.Flow == types.FlowReturn || result.IsNormal() {
		return result.Val, true
	}
	return nil, false
}

// applyObjectHandler wraps a binary/unary operator's Result: on a catchable
// error it attempts the object error handler against each operand in turn
// (left/operand first, matching the order the offending value was produced
// in source), and on success re-invokes retry with the replacement value
// substituted for that operand. This models core spec §4.5's "failing
// opcode restarts with its operand replaced by the returned value" without
// a per-opcode PC/stack rewind, since this evaluator is a tree-walker rather
// than a bytecode interpreter: retrying the pure operator function is
// behaviorally equivalent here.
func (e *Evaluator) applyObjectHandlerUnary(ctx *types.TaskContext, result types.Result, operand types.Value, retry func(types.Value) types.Result) types.Result {
	if !result.IsError() {
		return result
	}
	if replacement, ok := e.tryObjectErrorHandler(ctx, result.Error, operand); ok {
		return retry(replacement)
	}
	return result
}

func (e *Evaluator) applyObjectHandlerBinary(ctx *types.TaskContext, result types.Result, left, right types.Value, retry func(types.Value, types.Value) types.Result) types.Result {
	if !result.IsError() {
		return result
	}
	if replacement, ok := e.tryObjectErrorHandler(ctx, result.Error, left); ok {
		return retry(replacement, right)
	}
	if replacement, ok := e.tryObjectErrorHandler(ctx, result.Error, right); ok {
		return retry(left, replacement)
	}
	return result
}
