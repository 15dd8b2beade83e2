package task

import (
	"barn/types"
	"testing"
)

func TestTaskPauseSetsStateAndPreservesStack(t *testing.T) {
	tsk := NewTask(1, 0, MethodTicks, 5.0)
	tsk.PushFrame(ActivationFrame{This: types.ObjID(0), Verb: "look"})

	tsk.Pause()

	if got := tsk.GetState(); got != TaskPaused {
		t.Fatalf("expected TaskPaused, got %v", got)
	}
	if len(tsk.GetCallStack()) != 1 {
		t.Fatalf("expected Pause to preserve the call stack, got %d frames", len(tsk.GetCallStack()))
	}
}

func TestTaskCancelDiscardsStackAndKills(t *testing.T) {
	tsk := NewTask(1, 0, MethodTicks, 5.0)
	tsk.PushFrame(ActivationFrame{This: types.ObjID(0), Verb: "look"})
	tsk.BytecodeVM = struct{}{}

	tsk.Cancel()

	if got := tsk.GetState(); got != TaskKilled {
		t.Fatalf("expected TaskKilled after Cancel, got %v", got)
	}
	if len(tsk.GetCallStack()) != 0 {
		t.Fatalf("expected Cancel to discard the call stack, got %d frames", len(tsk.GetCallStack()))
	}
	if tsk.BytecodeVM != nil {
		t.Fatalf("expected Cancel to drop the saved VM state")
	}
}

func TestManagerCancelTaskPermission(t *testing.T) {
	mgr := &Manager{tasks: make(map[int64]*Task), nextTaskID: 1}
	owner := types.ObjID(5)
	tsk := NewTask(1, owner, MethodTicks, 5.0)
	mgr.RegisterTask(tsk)

	if errCode := mgr.CancelTask(1, types.ObjID(99), false); errCode != types.E_PERM {
		t.Fatalf("expected E_PERM for non-owner non-wizard, got %v", errCode)
	}
	if tsk.GetState() != TaskCreated {
		t.Fatalf("unauthorized cancel must not touch the task, got state %v", tsk.GetState())
	}

	if errCode := mgr.CancelTask(1, owner, false); errCode != types.E_NONE {
		t.Fatalf("expected owner cancel to succeed, got %v", errCode)
	}
	if mgr.GetTask(1) != nil {
		t.Fatalf("expected cancelled task to be removed from the manager")
	}
}

func TestManagerGetListableTasksIncludesPaused(t *testing.T) {
	mgr := &Manager{tasks: make(map[int64]*Task), nextTaskID: 1}

	queued := NewTask(1, 0, MethodTicks, 5.0)
	queued.SetState(TaskQueued)
	mgr.RegisterTask(queued)

	paused := NewTask(2, 0, MethodTicks, 5.0)
	paused.Pause()
	mgr.RegisterTask(paused)

	running := NewTask(3, 0, MethodTicks, 5.0)
	running.SetState(TaskRunning)
	mgr.RegisterTask(running)

	listed := mgr.GetListableTasks()
	if len(listed) != 2 {
		t.Fatalf("expected 2 listable tasks (queued + paused), got %d", len(listed))
	}

	seen := map[int64]bool{}
	for _, tt := range listed {
		seen[tt.ID] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected queued task 1 and paused task 2 to be listed, got %v", seen)
	}
	if seen[3] {
		t.Fatalf("running task must not appear in the listable set")
	}
}
