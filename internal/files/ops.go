package files

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MaxReadBytes bounds the content returned by Read.
	MaxReadBytes = 50000
	// searchMaxResults caps Search output lines.
	searchMaxResults = 50
	// searchMaxDepth bounds directory recursion during Search.
	searchMaxDepth = 10
	// searchPreviewBytes bounds each displayed match line.
	searchPreviewBytes = 120
)

var skipDirs = map[string]struct{}{
	".git":         {},
	".crabclaw":    {},
	"target":       {},
	"node_modules": {},
	".agent":       {},
	"__pycache__":  {},
	".venv":        {},
	"dist":         {},
	"build":        {},
}

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {},
	".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".a": {}, ".o": {},
	".bin": {}, ".dat": {}, ".db": {}, ".sqlite": {}, ".wasm": {}, ".class": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".mp3": {}, ".mp4": {}, ".mov": {},
}

// Workspace exposes sandboxed file operations rooted at a directory.
// Every operation returns a single status string so failures flow back
// to the model as ordinary tool output.
type Workspace struct {
	resolver Resolver
}

// NewWorkspace creates a file-operation surface rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{resolver: Resolver{Root: root}}
}

// Read returns the file content, truncated at MaxReadBytes on a valid
// character boundary.
func (w *Workspace) Read(path string) string {
	target, err := w.resolver.Resolve(path)
	if err != nil {
		return err.Error()
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Sprintf("Error: file not found: %s", path)
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: not a file: %s", path)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Sprintf("Error: read %s: %v", path, err)
	}
	total := len(data)
	content := strings.ToValidUTF8(string(data), string(utf8.RuneError))
	if len(content) <= MaxReadBytes {
		return content
	}
	cut := MaxReadBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return fmt.Sprintf("%s\n[… truncated, showing first %d of %d bytes]",
		content[:cut], cut, total)
}

// Write stores content at path, creating parent directories as needed.
func (w *Workspace) Write(path, content string) string {
	target, err := w.resolver.Resolve(path)
	if err != nil {
		return err.Error()
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Sprintf("Error: create directories for %s: %v", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: write %s: %v", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), w.resolver.Rel(target))
}

// Edit replaces old with new inside the file, first occurrence only
// unless replaceAll is set.
func (w *Workspace) Edit(path, old, new string, replaceAll bool) string {
	if old == "" {
		return "Error: 'old' must not be empty"
	}
	target, err := w.resolver.Resolve(path)
	if err != nil {
		return err.Error()
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Sprintf("Error: file not found: %s", path)
	}
	content := string(data)
	count := strings.Count(content, old)
	if count == 0 {
		return fmt.Sprintf("Error: text not found in %s", path)
	}
	replaced := count
	if replaceAll {
		content = strings.ReplaceAll(content, old, new)
	} else {
		content = strings.Replace(content, old, new, 1)
		replaced = 1
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: write %s: %v", path, err)
	}
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, w.resolver.Rel(target))
}

// List returns sorted directory entries, directories marked with a
// trailing slash and files annotated with their byte size.
func (w *Workspace) List(path string) string {
	target, err := w.resolver.Resolve(path)
	if err != nil {
		return err.Error()
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Sprintf("Error: directory not found: %s", path)
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: not a directory: %s", path)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fmt.Sprintf("Error: list %s: %v", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	if len(entries) == 0 {
		return "(empty directory)"
	}
	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
			continue
		}
		size := int64(0)
		if fi, err := entry.Info(); err == nil {
			size = fi.Size()
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", entry.Name(), size)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Search greps recursively under path for query, case-insensitive.
func (w *Workspace) Search(query, path string) string {
	if strings.TrimSpace(query) == "" {
		return "Error: 'query' must not be empty"
	}
	if path == "" {
		path = "."
	}
	target, err := w.resolver.Resolve(path)
	if err != nil {
		return err.Error()
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("Error: directory not found: %s", path)
	}

	needle := strings.ToLower(query)
	var matches []string
	rootDepth := strings.Count(target, string(os.PathSeparator))

	filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if p == target {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if strings.Count(p, string(os.PathSeparator))-rootDepth >= searchMaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= searchMaxResults {
			return filepath.SkipAll
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if _, bin := binaryExtensions[strings.ToLower(filepath.Ext(name))]; bin {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel := w.resolver.Rel(p)
		for i, line := range strings.Split(string(data), "\n") {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}
			matches = append(matches, fmt.Sprintf("  %s:%d: %s", rel, i+1, previewLine(line)))
			if len(matches) >= searchMaxResults {
				return filepath.SkipAll
			}
		}
		return nil
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%d match(es) for %q:", len(matches), query)
	for _, m := range matches {
		b.WriteString("\n")
		b.WriteString(m)
	}
	return b.String()
}

func previewLine(line string) string {
	line = strings.TrimRight(line, "\r")
	if len(line) <= searchPreviewBytes {
		return line
	}
	cut := searchPreviewBytes
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "…"
}
