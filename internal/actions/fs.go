package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/sopflow/pkg/schema"
)

const defaultMaxReadSize = 50 * 1024 * 1024 // 50MB

// FSConfig configures the file tools.
type FSConfig struct {
	// BaseDir confines every path: relative names resolve against it and
	// paths escaping it are refused. Empty leaves paths unconfined, relative
	// to the working directory.
	BaseDir     string
	MaxReadSize int64
}

// FileTools returns the file CRUD tool group.
func FileTools(cfg FSConfig) []Tool {
	if cfg.MaxReadSize <= 0 {
		cfg.MaxReadSize = defaultMaxReadSize
	}
	f := &fileTools{cfg: cfg}
	return []Tool{
		{Name: "create_file", Description: "Create a file and write content to it", InputSchema: json.RawMessage(createFileSchema), Fn: f.createFile},
		{Name: "read_file", Description: "Read a text file", InputSchema: json.RawMessage(filenameSchema), Fn: f.readFile},
		{Name: "edit_file", Description: "Overwrite or append to an existing file", InputSchema: json.RawMessage(editFileSchema), Fn: f.editFile},
		{Name: "delete_file", Description: "Delete an existing file", InputSchema: json.RawMessage(filenameSchema), Fn: f.deleteFile},
		{Name: "rename_file", Description: "Rename or move a file", InputSchema: json.RawMessage(renameFileSchema), Fn: f.renameFile},
		{Name: "copy_file", Description: "Copy a file", InputSchema: json.RawMessage(copyFileSchema), Fn: f.copyFile},
		{Name: "file_info", Description: "Return size, modification time and permissions of a file", InputSchema: json.RawMessage(filenameSchema), Fn: f.fileInfo},
		{Name: "check_file_exists", Description: "Report whether a file exists", InputSchema: json.RawMessage(filenameSchema), Fn: f.checkFileExists},
		{Name: "identify_target_file", Description: "Normalize a file name, defaulting the extension to .txt", InputSchema: json.RawMessage(filenameSchema), Fn: f.identifyTargetFile},
	}
}

// --- JSON Schemas ---

const filenameSchema = `{
  "type": "object",
  "properties": {
    "filename": {"type": "string", "minLength": 1}
  },
  "required": ["filename"]
}`

const createFileSchema = `{
  "type": "object",
  "properties": {
    "filename": {"type": "string", "minLength": 1},
    "content": {},
    "type_file": {"type": "string", "pattern": "^\\.[A-Za-z0-9]+$", "default": ".txt"},
    "directory": {"type": ["string", "null"]}
  },
  "required": ["filename"]
}`

const editFileSchema = `{
  "type": "object",
  "properties": {
    "filename": {"type": "string", "minLength": 1},
    "new_content": {},
    "mode": {"type": "string", "enum": ["overwrite", "append"], "default": "overwrite"}
  },
  "required": ["filename", "new_content"]
}`

const renameFileSchema = `{
  "type": "object",
  "properties": {
    "old_name": {"type": "string", "minLength": 1},
    "new_name": {"type": "string", "minLength": 1}
  },
  "required": ["old_name", "new_name"]
}`

const copyFileSchema = `{
  "type": "object",
  "properties": {
    "src": {"type": "string", "minLength": 1},
    "dest": {"type": "string", "minLength": 1}
  },
  "required": ["src", "dest"]
}`

type fileTools struct{ cfg FSConfig }

// resolve turns a user-supplied name into an absolute path under BaseDir.
func (f *fileTools) resolve(tool, name, dir string) (string, error) {
	target := name
	if dir != "" {
		target = filepath.Join(dir, name)
	}

	if f.cfg.BaseDir == "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return "", schema.InvalidArgument("%s: invalid path %q: %v", tool, name, err)
		}
		return abs, nil
	}

	base, err := filepath.Abs(f.cfg.BaseDir)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "%s: invalid base directory: %v", tool, err).WithCause(err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "%s: path %q is outside %s", tool, name, base).
			WithCause(fs.ErrPermission)
	}
	return target, nil
}

func (f *fileTools) resolveParam(tool string, params map[string]any, key string) (string, error) {
	name, err := requireString(params, tool, key)
	if err != nil {
		return "", err
	}
	return f.resolve(tool, name, "")
}

// fileInfoMap builds a standard stat result map.
func fileInfoMap(name, path string, info fs.FileInfo) map[string]any {
	return map[string]any{
		"filename":    name,
		"path":        path,
		"size":        info.Size(),
		"modified_at": info.ModTime().UTC().Format(time.RFC3339),
		"is_dir":      info.IsDir(),
		"permissions": fmt.Sprintf("%04o", info.Mode().Perm()),
	}
}

func fsError(tool string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s: %v", tool, err).WithCause(err)
}

// requireExisting stats path and fails with fs.ErrNotExist when it is missing.
func requireExisting(tool, path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fsError(tool, err)
	}
	return info, nil
}

// --- create_file ---

func (f *fileTools) createFile(_ context.Context, params map[string]any) (any, error) {
	const tool = "create_file"
	name, err := requireString(params, tool, "filename")
	if err != nil {
		return nil, err
	}
	typeFile := stringParam(params, "type_file", ".txt")
	if filepath.Ext(name) == "" {
		name += typeFile
	}
	dir := stringParam(params, "directory", "")

	path, err := f.resolve(tool, name, dir)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fsError(tool, err)
		}
	}

	data := []byte(textParam(params, "content"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fsError(tool, err)
	}

	return map[string]any{
		"filename": name,
		"path":     path,
		"size":     len(data),
		"message":  "File created successfully",
	}, nil
}

// --- read_file ---

func (f *fileTools) readFile(_ context.Context, params map[string]any) (any, error) {
	const tool = "read_file"
	path, err := f.resolveParam(tool, params, "filename")
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fsError(tool, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.cfg.MaxReadSize))
	if err != nil {
		return nil, fsError(tool, err)
	}

	return map[string]any{
		"filename": stringParam(params, "filename", ""),
		"path":     path,
		"content":  string(data),
		"size":     len(data),
	}, nil
}

// --- edit_file ---

func (f *fileTools) editFile(_ context.Context, params map[string]any) (any, error) {
	const tool = "edit_file"
	path, err := f.resolveParam(tool, params, "filename")
	if err != nil {
		return nil, err
	}
	mode := stringParam(params, "mode", "overwrite")
	flag := os.O_WRONLY | os.O_TRUNC
	switch mode {
	case "overwrite":
	case "append":
		flag = os.O_WRONLY | os.O_APPEND
	default:
		return nil, schema.InvalidArgument("%s: invalid mode %q", tool, mode)
	}

	if _, err := requireExisting(tool, path); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fsError(tool, err)
	}
	n, werr := file.WriteString(textParam(params, "new_content"))
	if cerr := file.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, fsError(tool, werr)
	}

	return map[string]any{
		"filename": stringParam(params, "filename", ""),
		"path":     path,
		"mode":     mode,
		"written":  n,
		"message":  fmt.Sprintf("File updated successfully (%s)", mode),
	}, nil
}

// --- delete_file ---

func (f *fileTools) deleteFile(_ context.Context, params map[string]any) (any, error) {
	const tool = "delete_file"
	path, err := f.resolveParam(tool, params, "filename")
	if err != nil {
		return nil, err
	}
	info, err := requireExisting(tool, path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, schema.InvalidArgument("%s: %q is a directory", tool, stringParam(params, "filename", ""))
	}
	if err := os.Remove(path); err != nil {
		return nil, fsError(tool, err)
	}
	return map[string]any{
		"filename": stringParam(params, "filename", ""),
		"path":     path,
		"deleted":  true,
	}, nil
}

// --- rename_file ---

func (f *fileTools) renameFile(_ context.Context, params map[string]any) (any, error) {
	const tool = "rename_file"
	oldPath, err := f.resolveParam(tool, params, "old_name")
	if err != nil {
		return nil, err
	}
	newPath, err := f.resolveParam(tool, params, "new_name")
	if err != nil {
		return nil, err
	}
	if _, err := requireExisting(tool, oldPath); err != nil {
		return nil, err
	}
	if _, err := os.Stat(newPath); err == nil {
		return nil, fsError(tool, fmt.Errorf("%s: %w", stringParam(params, "new_name", ""), fs.ErrExist))
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return nil, fsError(tool, err)
	}
	return map[string]any{
		"old_path": oldPath,
		"new_path": newPath,
	}, nil
}

// --- copy_file ---

func (f *fileTools) copyFile(_ context.Context, params map[string]any) (any, error) {
	const tool = "copy_file"
	src, err := f.resolveParam(tool, params, "src")
	if err != nil {
		return nil, err
	}
	dst, err := f.resolveParam(tool, params, "dest")
	if err != nil {
		return nil, err
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, fsError(tool, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fsError(tool, err)
	}
	n, cerr := io.Copy(out, in)
	if err := out.Close(); cerr == nil {
		cerr = err
	}
	if cerr != nil {
		return nil, fsError(tool, cerr)
	}

	return map[string]any{
		"src":  src,
		"dest": dst,
		"size": n,
	}, nil
}

// --- file_info ---

func (f *fileTools) fileInfo(_ context.Context, params map[string]any) (any, error) {
	const tool = "file_info"
	path, err := f.resolveParam(tool, params, "filename")
	if err != nil {
		return nil, err
	}
	info, err := requireExisting(tool, path)
	if err != nil {
		return nil, err
	}
	return fileInfoMap(stringParam(params, "filename", ""), path, info), nil
}

// --- check_file_exists ---

func (f *fileTools) checkFileExists(_ context.Context, params map[string]any) (any, error) {
	const tool = "check_file_exists"
	path, err := f.resolveParam(tool, params, "filename")
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fsError(tool, err)
	}
	return map[string]any{
		"filename": stringParam(params, "filename", ""),
		"path":     path,
		"exists":   exists,
	}, nil
}

// --- identify_target_file ---

func (f *fileTools) identifyTargetFile(_ context.Context, params map[string]any) (any, error) {
	name, err := requireString(params, "identify_target_file", "filename")
	if err != nil {
		return nil, err
	}
	ext := filepath.Ext(name)
	final := name
	if ext == "" {
		ext = ".txt"
		final = name + ext
	}
	return map[string]any{
		"final_filename": final,
		"extension":      ext,
	}, nil
}
