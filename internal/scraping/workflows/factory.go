package workflows

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/i474232898/radar-cache/internal/radar"
	"github.com/i474232898/radar-cache/internal/scraping"
)

// Name identifies a workflow.
type Name string

const (
	// RadarScraping captures the current radar loop of a location into a new cache folder.
	RadarScraping Name = "RadarScraping"
)

// ErrUnknownWorkflow is returned by Factory.Get for names without an implementation.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// Report describes one workflow run.
type Report struct {
	Workflow Name
	Location radar.Location
	Run      *scraping.RunResult
	// Folder is the published cache folder; nil when nothing was published.
	Folder  *radar.CacheFolder
	Evicted int
}

// Workflow is a named plan of steps that produces one cache folder per run.
type Workflow interface {
	Name() Name
	Plan() []string
	Run(ctx context.Context, loc radar.Location) (Report, error)
}

// Factory maps workflow names to implementations.
type Factory struct {
	workflows map[Name]Workflow
}

// NewFactory builds a Factory from an explicit list of workflows.
func NewFactory(wfs ...Workflow) *Factory {
	f := &Factory{workflows: make(map[Name]Workflow, len(wfs))}
	for _, wf := range wfs {
		f.workflows[wf.Name()] = wf
	}
	return f
}

// Get returns the workflow registered under name.
func (f *Factory) Get(name Name) (Workflow, error) {
	wf, ok := f.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return wf, nil
}

// Names lists the available workflows, sorted.
func (f *Factory) Names() []Name {
	names := make([]Name, 0, len(f.workflows))
	for n := range f.workflows {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
