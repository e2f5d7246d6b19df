// Package registry tracks named HTM instances in a JSON file inside
// the user config directory. It is a discovery aid for the CLI only;
// nothing in the query path consults it.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glottech/hybridtm/internal/config"
)

// Instance describes one registered translation memory.
type Instance struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	StorePath string                `json:"storePath"`
	Embedder  config.EmbedderConfig `json:"embedder"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Registry is the file-backed instance list.
type Registry struct {
	mu        sync.Mutex
	path      string
	instances map[string]*Instance // keyed by name
}

// DefaultPath returns the registry location inside the user config
// directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hybridtm", "instances.json"), nil
}

// Open loads the registry file, creating an empty registry when the
// file does not exist yet.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, instances: make(map[string]*Instance)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read %s: %w", path, err)
	}

	var list []*Instance
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("registry: corrupt file %s: %w", path, err)
	}
	for _, inst := range list {
		r.instances[inst.Name] = inst
	}
	return r, nil
}

// Add registers a new instance. Names are unique.
func (r *Registry) Add(name, storePath string, embedder config.EmbedderConfig) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		return nil, fmt.Errorf("registry: instance %q already exists", name)
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		Name:      name,
		StorePath: storePath,
		Embedder:  embedder,
		CreatedAt: time.Now().UTC(),
	}
	r.instances[name] = inst

	if err := r.save(); err != nil {
		delete(r.instances, name)
		return nil, err
	}
	return inst, nil
}

// Get looks up an instance by name.
func (r *Registry) Get(name string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Remove drops an instance from the registry. The store files stay on
// disk.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[name]; !ok {
		return false, nil
	}
	delete(r.instances, name)
	return true, r.save()
}

// List returns all instances sorted by name.
func (r *Registry) List() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) save() error {
	list := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		list = append(list, inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: failed to encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o600)
}
