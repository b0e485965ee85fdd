// Package prompts holds the model prompt templates. Each JSON file is a
// catalog of named templates embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var files embed.FS

// placeholder matches {{.Name}} slots in a template
var placeholder = regexp.MustCompile(`\{\{\.([A-Za-z][A-Za-z0-9_]*)\}\}`)

// Catalog is the parsed content of one prompt file
type Catalog struct {
	name      string
	templates map[string]string
}

var catalogs sync.Map // file name -> *Catalog

// Load returns the catalog for a file such as "detection.json". Parsed
// catalogs are kept for the life of the process.
func Load(file string) (*Catalog, error) {
	if c, ok := catalogs.Load(file); ok {
		return c.(*Catalog), nil
	}

	data, err := files.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", file, err)
	}
	templates := make(map[string]string)
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", file, err)
	}

	c, _ := catalogs.LoadOrStore(file, &Catalog{name: file, templates: templates})
	return c.(*Catalog), nil
}

// Get returns the raw template stored under key
func (c *Catalog) Get(key string) (string, error) {
	tmpl, ok := c.templates[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, c.name)
	}
	return tmpl, nil
}

// Keys lists the template names in sorted order
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.templates))
	for k := range c.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render fills the template under key. Every slot must have a value in
// data; an unfilled slot is an error rather than literal text sent to the
// model.
func (c *Catalog) Render(key string, data map[string]string) (string, error) {
	tmpl, err := c.Get(key)
	if err != nil {
		return "", err
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(slot string) string {
		name := placeholder.FindStringSubmatch(slot)[1]
		v, ok := data[name]
		if !ok {
			missing = append(missing, name)
			return slot
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("prompt %s/%s: no value for %s", c.name, key, strings.Join(missing, ", "))
	}
	return out, nil
}

// Slots lists the distinct placeholder names a template expects
func Slots(tmpl string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Get loads file and returns the template under key
func Get(file, key string) (string, error) {
	c, err := Load(file)
	if err != nil {
		return "", err
	}
	return c.Get(key)
}

// Render loads file and fills the template under key from data
func Render(file, key string, data map[string]string) (string, error) {
	c, err := Load(file)
	if err != nil {
		return "", err
	}
	return c.Render(key, data)
}
