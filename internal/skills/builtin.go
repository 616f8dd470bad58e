package skills

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/loomworks/loom/internal/dispatch"
)

// defaultPeekLines is how many lines peek_file returns when none are
// requested.
const defaultPeekLines = 40

// maxPeekChars caps peek_file output regardless of the line count asked for.
const maxPeekChars = 2000

// maxSearchHits bounds search_codebase output.
const maxSearchHits = 50

// RegisterBuiltins installs the default skill set into the registry.
// projectRoot confines every file operation; catalog receives skills
// created at runtime and may be nil.
func RegisterBuiltins(reg *dispatch.Registry, projectRoot string, catalog *Catalog) {
	builtins := []*dispatch.Definition{
		{
			Name:        "list_dir",
			Description: "List the entries of a directory",
			Component:   dispatch.ComponentSkill,
			Params: []dispatch.ParamSpec{
				{Name: "path", Required: true, Description: "directory relative to the project root"},
				{Name: "pattern", Description: "glob filter on entry names"},
				{Name: "max_items", Description: "cap on listed entries"},
			},
			Handler: listDir(projectRoot),
		},
		{
			Name:        "peek_file",
			Description: "Read the first lines of a file",
			Component:   dispatch.ComponentSkill,
			Params: []dispatch.ParamSpec{
				{Name: "path", Required: true},
				{Name: "lines", Description: "line count, default 40"},
			},
			Handler: peekFile(projectRoot),
		},
		{
			Name:        "read_file_safe",
			Description: "Read a whole file, capped at 1 MiB",
			Component:   dispatch.ComponentSkill,
			Params:      []dispatch.ParamSpec{{Name: "path", Required: true}},
			Handler:     readFileSafe(projectRoot),
		},
		{
			Name:        "write_file_safe",
			Description: "Write content to a file inside the project root",
			Component:   dispatch.ComponentSkill,
			Params: []dispatch.ParamSpec{
				{Name: "path", Required: true},
				{Name: "content", Required: true},
			},
			Handler: writeFileSafe(projectRoot),
		},
		{
			Name:        "list_files_recursive",
			Description: "Walk a directory tree and list every file",
			Component:   dispatch.ComponentSkill,
			Params:      []dispatch.ParamSpec{{Name: "path"}},
			Handler:     listFilesRecursive(projectRoot),
		},
		{
			Name:        "search_codebase",
			Description: "Find lines containing a substring across the tree",
			Component:   dispatch.ComponentSkill,
			Params: []dispatch.ParamSpec{
				{Name: "query", Required: true},
				{Name: "path"},
			},
			Handler: searchCodebase(projectRoot),
		},
		{
			Name:         "save_skill",
			Description:  "Persist a new skill definition into the catalog",
			Component:    dispatch.ComponentCore,
			RequiresHITL: true,
			Params: []dispatch.ParamSpec{
				{Name: "name", Required: true},
				{Name: "description", Required: true},
				{Name: "content", Required: true},
			},
			Handler: saveSkill(reg, catalog),
		},
		{
			Name:         "evolve_skill_from_patch",
			Description:  "Derive an evolved skill generation from a patch",
			Component:    dispatch.ComponentCore,
			RequiresHITL: true,
			Params: []dispatch.ParamSpec{
				{Name: "name", Required: true},
				{Name: "patch", Required: true},
			},
			Handler: evolveSkill(reg, catalog),
		},
	}
	for _, def := range builtins {
		reg.Register(def)
	}
}

func listDir(root string) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		path, err := resolve(root, params["path"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return dispatch.Failure(fmt.Sprintf("read dir: %v", err))
		}
		pattern := params["pattern"]
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if pattern != "" {
				ok, err := filepath.Match(pattern, e.Name())
				if err != nil {
					return dispatch.Failure(fmt.Sprintf("invalid pattern: %q", pattern))
				}
				if !ok {
					continue
				}
			}
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		if raw, ok := params["max_items"]; ok {
			max, err := strconv.Atoi(raw)
			if err != nil || max <= 0 {
				return dispatch.Failure(fmt.Sprintf("invalid max_items value: %q", raw))
			}
			if len(names) > max {
				names = append(names[:max], "... [truncated]")
			}
		}
		return dispatch.Success(strings.Join(names, "\n"))
	}
}

func peekFile(root string) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		path, err := resolve(root, params["path"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		n := defaultPeekLines
		if raw, ok := params["lines"]; ok {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				return dispatch.Failure(fmt.Sprintf("invalid lines value: %q", raw))
			}
			n = parsed
		}
		data, err := readCapped(path)
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		lines := strings.Split(string(data), "\n")
		if len(lines) > n {
			lines = lines[:n]
		}
		out := strings.Join(lines, "\n")
		if len(out) > maxPeekChars {
			out = out[:maxPeekChars]
		}
		return dispatch.Success(out)
	}
}

func readFileSafe(root string) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		path, err := resolve(root, params["path"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		data, err := readCapped(path)
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		return dispatch.Success(string(data))
	}
}

func readCapped(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %v", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("file too large: %d bytes (cap %d)", info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %v", err)
	}
	return data, nil
}

func writeFileSafe(root string) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		path, err := resolve(root, params["path"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return dispatch.Failure(fmt.Sprintf("create parent dirs: %v", err))
		}
		content := params["content"]
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return dispatch.Failure(fmt.Sprintf("write: %v", err))
		}
		return dispatch.Success(fmt.Sprintf("wrote %d bytes to %s", len(content), params["path"]))
	}
}

func listFilesRecursive(root string) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		start, err := resolve(root, params["path"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		var files []string
		err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(start, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
		if err != nil {
			return dispatch.Failure(fmt.Sprintf("walk: %v", err))
		}
		sort.Strings(files)
		return dispatch.Success(strings.Join(files, "\n"))
	}
}

func searchCodebase(root string) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		query := params["query"]
		start, err := resolve(root, params["path"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		var hits []string
		err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if len(hits) >= maxSearchHits {
				return filepath.SkipAll
			}
			info, err := d.Info()
			if err != nil || info.Size() > maxReadBytes {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			rel, _ := filepath.Rel(start, path)
			for i, line := range strings.Split(string(data), "\n") {
				if strings.Contains(line, query) {
					hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
					if len(hits) >= maxSearchHits {
						break
					}
				}
			}
			return nil
		})
		if err != nil {
			return dispatch.Failure(fmt.Sprintf("walk: %v", err))
		}
		if len(hits) == 0 {
			return dispatch.Success("no matches")
		}
		return dispatch.Success(strings.Join(hits, "\n"))
	}
}

func saveSkill(reg *dispatch.Registry, catalog *Catalog) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		if catalog == nil {
			return dispatch.Failure("no skill catalog configured")
		}
		entry, err := catalog.Save(params["name"], params["description"], params["content"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		RegisterCataloged(reg, []*Entry{entry})
		return dispatch.Success(fmt.Sprintf("saved skill %s", entry.Name))
	}
}

func evolveSkill(reg *dispatch.Registry, catalog *Catalog) dispatch.Handler {
	return func(_ context.Context, params map[string]string) dispatch.Observation {
		if catalog == nil {
			return dispatch.Failure("no skill catalog configured")
		}
		entry, err := catalog.Evolve(params["name"], params["patch"])
		if err != nil {
			return dispatch.Failure(err.Error())
		}
		RegisterCataloged(reg, []*Entry{entry})
		return dispatch.Success(fmt.Sprintf("evolved %s into %s", params["name"], entry.Name))
	}
}
