package builtins

import (
	"barn/types"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func sanitizeRootedPath(root, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path disallowed")
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal disallowed")
	}
	return filepath.Join(root, clean), nil
}

// builtinRunScript: run_script(name, args) -> string
// Wizard-only. Invokes scripts/<name> with args as argv, returning its
// combined stdout+stderr. ../ components are rejected.
func builtinRunScript(ctx *types.TaskContext, args []types.Value) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 2 {
		return types.Err(types.E_ARGS)
	}
	nameVal, ok := args[0].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}
	argList, ok := args[1].(types.ListValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	path, err := sanitizeRootedPath("scripts", nameVal.Value())
	if err != nil {
		return types.Err(types.E_INVARG)
	}

	argv := make([]string, 0, argList.Len())
	for i := 1; i <= argList.Len(); i++ {
		s, ok := argList.Get(i).(types.StrValue)
		if !ok {
			return types.Err(types.E_TYPE)
		}
		argv = append(argv, s.Value())
	}

	cmd := exec.Command(path, argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return types.Err(types.E_EXEC)
	}

	return types.Ok(types.NewStr(string(out)))
}

// builtinEchoFile: echo_file(name) -> none
// Wizard-only. Streams text/<name> to the calling connection via tell().
// ../ components are rejected.
func builtinEchoFile(ctx *types.TaskContext, args []types.Value) types.Result {
	if !ctx.IsWizard {
		return types.Err(types.E_PERM)
	}
	if len(args) != 1 {
		return types.Err(types.E_ARGS)
	}
	nameVal, ok := args[0].(types.StrValue)
	if !ok {
		return types.Err(types.E_TYPE)
	}

	path, err := sanitizeRootedPath("text", nameVal.Value())
	if err != nil {
		return types.Err(types.E_INVARG)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.Err(types.E_FILE)
	}

	if conn := resolveConnection(ctx, ctx.Player); conn != nil {
		_ = conn.Send(string(data))
	}

	return types.Ok(types.NewInt(0))
}
