// Package definitions loads workflow and topology definitions from YAML
// files and resolves them by id.
package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"slices"
	"sync"

	"github.com/dukex/sortie/pkg/models"
	"github.com/dukex/sortie/pkg/topology"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	TopologiesDir = "topologies"
	WorkflowsDir  = "workflows"
	// ReactionsFile is the rule table, loaded by the reactions package.
	ReactionsFile = "reactions.yaml"
)

var (
	ErrTopologyNotFound    = errors.New("topology not found")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrInvalidDefinition   = errors.New("invalid definition")
	ErrDuplicateDefinition = errors.New("duplicate definition")
)

// Catalog holds validated definitions. It is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	topologies map[string]*models.TopologyDefinition
	workflows  map[string]*models.WorkflowDefinition
	validate   *validator.Validate
}

func NewCatalog() *Catalog {
	return &Catalog{
		topologies: make(map[string]*models.TopologyDefinition),
		workflows:  make(map[string]*models.WorkflowDefinition),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadDir reads dir/topologies/*.yaml and dir/workflows/*.yaml.
func LoadDir(dir string) (*Catalog, error) {
	return Load(os.DirFS(dir))
}

// Load reads every definition from fsys and validates the whole set. All
// problems are reported together.
func Load(fsys fs.FS) (*Catalog, error) {
	c := NewCatalog()

	var errs []error

	topologies, err := readAll[models.TopologyDefinition](fsys, TopologiesDir)
	if err != nil {
		return nil, err
	}

	for _, doc := range topologies {
		if err := c.AddTopology(doc.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", doc.file, err))
		}
	}

	workflows, err := readAll[models.WorkflowDefinition](fsys, WorkflowsDir)
	if err != nil {
		return nil, err
	}

	for _, doc := range workflows {
		if err := c.AddWorkflow(doc.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", doc.file, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return c, nil
}

// AddTopology validates and registers topo.
func (c *Catalog) AddTopology(topo *models.TopologyDefinition) error {
	if err := c.validate.Struct(topo); err != nil {
		return fmt.Errorf("%w: topology %q: %w", ErrInvalidDefinition, topo.ID, err)
	}

	if err := topology.Validate(topo); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.topologies[topo.ID]; ok {
		return fmt.Errorf("%w: topology %q", ErrDuplicateDefinition, topo.ID)
	}

	c.topologies[topo.ID] = topo

	return nil
}

// AddWorkflow validates wf and registers it. Every phase must reference a
// known topology, so topologies are added first.
func (c *Catalog) AddWorkflow(wf *models.WorkflowDefinition) error {
	if err := c.validate.Struct(wf); err != nil {
		return fmt.Errorf("%w: workflow %q: %w", ErrInvalidDefinition, wf.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.workflows[wf.ID]; ok {
		return fmt.Errorf("%w: workflow %q", ErrDuplicateDefinition, wf.ID)
	}

	phases := make(map[string]bool, len(wf.Phases))

	for _, phase := range wf.Phases {
		if phases[phase.ID] {
			return fmt.Errorf("%w: workflow %q repeats phase %q", ErrInvalidDefinition, wf.ID, phase.ID)
		}

		phases[phase.ID] = true

		if _, ok := c.topologies[phase.TopologyID]; !ok {
			return fmt.Errorf("%w: workflow %q phase %q: %w %q", ErrInvalidDefinition, wf.ID, phase.ID, ErrTopologyNotFound, phase.TopologyID)
		}
	}

	c.workflows[wf.ID] = wf

	return nil
}

// Topology returns a copy of the topology so callers may bind it freely.
func (c *Catalog) Topology(id string) (*models.TopologyDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topo, ok := c.topologies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTopologyNotFound, id)
	}

	return topo.Clone(), nil
}

func (c *Catalog) Workflow(id string) (*models.WorkflowDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wf, ok := c.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWorkflowNotFound, id)
	}

	return wf, nil
}

// Topologies lists the topologies sorted by id.
func (c *Catalog) Topologies() []*models.TopologyDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return sortedValues(c.topologies)
}

// Workflows lists the workflows sorted by id.
func (c *Catalog) Workflows() []*models.WorkflowDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return sortedValues(c.workflows)
}

type document[T any] struct {
	file  string
	value *T
}

func readAll[T any](fsys fs.FS, dir string) ([]document[T], error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	docs := make([]document[T], 0, len(entries))

	for _, entry := range entries {
		ext := path.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		file := path.Join(dir, entry.Name())

		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		var value T

		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, file, err)
		}

		docs = append(docs, document[T]{file: file, value: &value})
	}

	return docs, nil
}

func sortedValues[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}

	return out
}
