package builtins

import (
	"barn/task"
	"barn/types"
	"testing"
)

func TestBuiltinPauseParksCurrentTask(t *testing.T) {
	mgr := task.GetManager()
	tsk := mgr.CreateTask(types.ObjID(1), task.MethodTicks, 5.0)

	ctx := types.NewTaskContext()
	ctx.Task = tsk
	ctx.Programmer = types.ObjID(1)

	result := builtinPause(ctx, nil)
	if result.IsError() {
		t.Fatalf("expected pause() to succeed, got %v", result.Error)
	}
	if tsk.GetState() != task.TaskPaused {
		t.Fatalf("expected task to be TaskPaused, got %v", tsk.GetState())
	}
}

func TestBuiltinCancelRequiresOwnerOrWizard(t *testing.T) {
	mgr := task.GetManager()
	tsk := mgr.CreateTask(types.ObjID(2), task.MethodTicks, 5.0)

	ctx := types.NewTaskContext()
	ctx.Programmer = types.ObjID(7)
	ctx.IsWizard = false

	result := builtinCancel(ctx, []types.Value{types.NewInt(tsk.ID)})
	if !result.IsError() || result.Error != types.E_PERM {
		t.Fatalf("expected E_PERM for non-owner cancel, got %v", result)
	}

	ctx.IsWizard = true
	result = builtinCancel(ctx, []types.Value{types.NewInt(tsk.ID)})
	if result.IsError() {
		t.Fatalf("expected wizard cancel to succeed, got %v", result.Error)
	}
	if mgr.GetTask(tsk.ID) != nil {
		t.Fatalf("expected cancelled task to be removed")
	}
}

func TestBuiltinTasksListsQueuedSuspendedAndPaused(t *testing.T) {
	mgr := task.GetManager()

	queued := mgr.CreateTask(types.ObjID(3), task.MethodTicks, 5.0)
	queued.SetState(task.TaskQueued)

	suspended := mgr.CreateTask(types.ObjID(3), task.MethodTicks, 5.0)
	suspended.SetState(task.TaskSuspended)

	paused := mgr.CreateTask(types.ObjID(3), task.MethodTicks, 5.0)
	paused.Pause()

	ctx := types.NewTaskContext()
	result := builtinTasks(ctx, nil)
	if result.IsError() {
		t.Fatalf("expected tasks() to succeed, got %v", result.Error)
	}

	list, ok := result.Val.(types.ListValue)
	if !ok {
		t.Fatalf("expected a list result, got %T", result.Val)
	}

	found := map[int64]bool{}
	for i := 1; i <= list.Len(); i++ {
		entry, ok := list.Get(i).(types.ListValue)
		if !ok || entry.Len() == 0 {
			continue
		}
		idVal, ok := entry.Get(1).(types.IntValue)
		if !ok {
			continue
		}
		found[idVal.Val] = true
	}

	if !found[queued.ID] || !found[suspended.ID] || !found[paused.ID] {
		t.Fatalf("expected queued task %d, suspended task %d and paused task %d in tasks(), got %v", queued.ID, suspended.ID, paused.ID, found)
	}
}
