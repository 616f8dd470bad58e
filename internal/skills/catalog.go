package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// maxPatchBytes caps how much patch content an evolved generation keeps.
const maxPatchBytes = 8192

var skillNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Entry is one cataloged skill on disk. Each lives in its own
// subdirectory containing a skill.json, optionally with a prompt.md
// that overrides the content field.
type Entry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Source      string `json:"source"` // "catalog", "evolved"
	Parent      string `json:"parent,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Catalog manages skill definitions under a directory.
type Catalog struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewCatalog creates a catalog rooted at dir. The directory is created
// lazily on first write.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, now: time.Now}
}

// Load scans the catalog directory for skill subdirectories. A missing
// directory is an empty catalog, not an error.
func (c *Catalog) Load() ([]*Entry, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skill directory %s: %w", c.dir, err)
	}

	var skills []*Entry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := c.loadOne(filepath.Join(c.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading skill %s: %w", e.Name(), err)
		}
		if s != nil {
			skills = append(skills, s)
		}
	}
	return skills, nil
}

func (c *Catalog) loadOne(dir string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, "skill.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skill.json: %w", err)
	}

	var s Entry
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing skill.json in %s: %w", dir, err)
	}
	if s.Source == "" {
		s.Source = "catalog"
	}

	if promptData, err := os.ReadFile(filepath.Join(dir, "prompt.md")); err == nil {
		s.Content = strings.TrimSpace(string(promptData))
	}
	return &s, nil
}

// Save writes a new skill into the catalog.
func (c *Catalog) Save(name, description, content string) (*Entry, error) {
	if !skillNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid skill name %q", name)
	}
	entry := &Entry{
		Name:        name,
		Description: description,
		Content:     content,
		Source:      "catalog",
		CreatedAt:   c.now().UTC().Format(time.RFC3339),
	}
	if err := c.write(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Evolve derives a new generation of an existing skill from patch
// content. The evolved skill's name carries a timestamp suffix so every
// generation stays addressable; patch content beyond the cap is dropped.
func (c *Catalog) Evolve(name, patch string) (*Entry, error) {
	if !skillNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid skill name %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parent, err := c.loadOne(filepath.Join(c.dir, name))
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("skill %q not in catalog", name)
	}

	if len(patch) > maxPatchBytes {
		patch = patch[:maxPatchBytes]
	}

	evolved := &Entry{
		Name:        fmt.Sprintf("evolved_%d", c.now().Unix()),
		Description: parent.Description,
		Content:     patch,
		Source:      "evolved",
		Parent:      name,
		CreatedAt:   c.now().UTC().Format(time.RFC3339),
	}
	if err := c.writeLocked(evolved); err != nil {
		return nil, err
	}
	return evolved, nil
}

func (c *Catalog) write(entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(entry)
}

func (c *Catalog) writeLocked(entry *Entry) error {
	dir := filepath.Join(c.dir, entry.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create skill dir: %w", err)
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal skill: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.json"), data, 0o644); err != nil {
		return fmt.Errorf("write skill.json: %w", err)
	}
	return nil
}
