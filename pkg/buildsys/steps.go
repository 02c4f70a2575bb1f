package buildsys

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/config"
	"github.com/poma-prs/poma-static-project/pkg/storage"
)

// ErrUnknownStep is returned for step() calls or task commands naming an unregistered step
var ErrUnknownStep = eris.New("unknown step")

// StepEnv is passed to every step invocation
type StepEnv struct {
	ProjectRoot string
	Config      *config.Config
	// Store is nil when the runner has no state database
	Store  *storage.Store
	Task   *Task
	Stdout io.Writer
	Stderr io.Writer
}

// StepFunc implements a built-in pipeline step. args contains the keyword arguments passed to step().
type StepFunc func(ctx context.Context, env *StepEnv, args map[string]string) error

// StepInfo describes a registered step
type StepInfo struct {
	Name string
	Desc string
	Run  StepFunc
}

var (
	stepLock     sync.RWMutex
	stepRegistry = map[string]StepInfo{}
)

// RegisterStep makes a step available to task scripts. Registering a name twice panics.
func RegisterStep(info StepInfo) {
	stepLock.Lock()
	defer stepLock.Unlock()

	if _, exists := stepRegistry[info.Name]; exists {
		panic("step " + info.Name + " registered twice")
	}
	stepRegistry[info.Name] = info
}

// LookupStep returns the step registered under name
func LookupStep(name string) (StepInfo, error) {
	stepLock.RLock()
	defer stepLock.RUnlock()

	info, ok := stepRegistry[name]
	if !ok {
		return StepInfo{}, eris.Wrapf(ErrUnknownStep, "step %q", name)
	}
	return info, nil
}

// Steps returns all registered steps sorted by name
func Steps() []StepInfo {
	stepLock.RLock()
	defer stepLock.RUnlock()

	result := make([]StepInfo, 0, len(stepRegistry))
	for _, info := range stepRegistry {
		result = append(result, info)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
