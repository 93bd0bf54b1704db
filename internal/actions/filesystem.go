package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileReadAction reads file contents, restricted to the workspace when
// configured.
type FileReadAction struct {
	workspace string
	restrict  bool
}

func NewFileReadAction(workspace string, restrict bool) *FileReadAction {
	return &FileReadAction{workspace: workspace, restrict: restrict}
}

func (a *FileReadAction) Name() string            { return "file_read" }
func (a *FileReadAction) CapabilityGroup() string { return "filesystem" }
func (a *FileReadAction) Description() string     { return "Read the contents of a file" }

func (a *FileReadAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (a *FileReadAction) Execute(_ context.Context, params map[string]any) *Result {
	path, _ := params["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	resolved, err := resolvePath(path, a.workspace, a.restrict)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err)).WithError(err)
	}
	return NewResult(string(data))
}

// FileWriteAction writes content to a file, creating parent directories.
type FileWriteAction struct {
	workspace string
	restrict  bool
}

func NewFileWriteAction(workspace string, restrict bool) *FileWriteAction {
	return &FileWriteAction{workspace: workspace, restrict: restrict}
}

func (a *FileWriteAction) Name() string            { return "file_write" }
func (a *FileWriteAction) CapabilityGroup() string { return "filesystem" }
func (a *FileWriteAction) Description() string     { return "Write content to a file" }

func (a *FileWriteAction) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "File content",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (a *FileWriteAction) Execute(_ context.Context, params map[string]any) *Result {
	path, _ := params["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	content, _ := params["content"].(string)

	resolved, err := resolvePath(path, a.workspace, a.restrict)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create directory: %v", err)).WithError(err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err)).WithError(err)
	}
	return NewResult(map[string]any{"path": resolved, "bytes": len(content)})
}

// resolvePath resolves a path relative to the workspace. When restrict is
// set, symlinks are canonicalized and paths escaping the workspace rejected.
func resolvePath(path, workspace string, restrict bool) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}
	if !restrict {
		return resolved, nil
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		// Non-existent target: canonicalize the parent and re-append.
		parentReal, perr := filepath.EvalSymlinks(filepath.Dir(absResolved))
		if perr != nil {
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
		real = filepath.Join(parentReal, filepath.Base(absResolved))
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
