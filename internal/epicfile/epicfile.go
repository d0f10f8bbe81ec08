// Package epicfile loads and validates the YAML catalogs that describe the
// epics warren runs.
package epicfile

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/warrenlabs/warren/pkg/permission"
)

// Catalog is the top-level structure of an epics file.
type Catalog struct {
	Epics []EpicSpec `yaml:"epics"`
}

// EpicSpec describes one epic and its sub-tasks.
type EpicSpec struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	SubTasks    []SubTaskSpec `yaml:"sub_tasks"`
}

// SubTaskSpec describes one sub-task within an epic.
type SubTaskSpec struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	// Requires lists the operation kinds the sub-task's work will perform:
	// inspect, workspace, network, exec.
	Requires []string `yaml:"requires"`
}

// Load reads and parses a catalog from path. The result is not validated;
// call Validate before using it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read epics file: %w", err)
	}
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse epics file %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the catalog for problems a registration would reject:
// missing or duplicate ids, empty sub-task lists, unknown operation names.
func (c *Catalog) Validate() error {
	if len(c.Epics) == 0 {
		return fmt.Errorf("catalog has no epics")
	}
	seenEpics := make(map[string]bool, len(c.Epics))
	for _, e := range c.Epics {
		if e.ID == "" {
			return fmt.Errorf("epic %q: empty id", e.Title)
		}
		if seenEpics[e.ID] {
			return fmt.Errorf("epic %s: duplicate id", e.ID)
		}
		seenEpics[e.ID] = true

		if len(e.SubTasks) == 0 {
			return fmt.Errorf("epic %s: no sub-tasks", e.ID)
		}
		seenTasks := make(map[string]bool, len(e.SubTasks))
		for _, st := range e.SubTasks {
			if st.ID == "" {
				return fmt.Errorf("epic %s: sub-task %q: empty id", e.ID, st.Title)
			}
			if seenTasks[st.ID] {
				return fmt.Errorf("epic %s: sub-task %s: duplicate id", e.ID, st.ID)
			}
			seenTasks[st.ID] = true

			for _, name := range st.Requires {
				if _, ok := permission.ParseOperation(name); !ok {
					return fmt.Errorf("epic %s: sub-task %s: unknown operation %q", e.ID, st.ID, name)
				}
			}
		}
	}
	return nil
}

// SubTaskIDs returns the epic's sub-task ids in file order.
func (e EpicSpec) SubTaskIDs() []string {
	ids := make([]string, len(e.SubTasks))
	for i, st := range e.SubTasks {
		ids[i] = st.ID
	}
	return ids
}

// Operations returns the union of the epic's declared operations, mapped to
// their typed values. Unknown names are skipped; Validate reports them.
func (e EpicSpec) Operations() []permission.Operation {
	seen := make(map[permission.Operation]bool)
	var ops []permission.Operation
	for _, st := range e.SubTasks {
		for _, name := range st.Requires {
			op, ok := permission.ParseOperation(name)
			if !ok || seen[op] {
				continue
			}
			seen[op] = true
			ops = append(ops, op)
		}
	}
	return ops
}
