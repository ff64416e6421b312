package services

import (
	"fmt"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
)

// StageRegistry holds the executors the coordinator may run, in registration order
type StageRegistry struct {
	executors map[entities.Stage]providers.StageExecutor
	order     []entities.Stage
}

// NewStageRegistry creates a registry from executors. Requirements must be
// registered before the stages that depend on them.
func NewStageRegistry(executors ...providers.StageExecutor) (*StageRegistry, error) {
	r := &StageRegistry{executors: make(map[entities.Stage]providers.StageExecutor)}
	for _, executor := range executors {
		if err := r.Register(executor); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an executor
func (r *StageRegistry) Register(executor providers.StageExecutor) error {
	stage := executor.Stage()
	if !stage.Known() {
		return fmt.Errorf("cannot register unknown stage %q", stage)
	}
	if _, exists := r.executors[stage]; exists {
		return fmt.Errorf("stage %s is already registered", stage)
	}
	for _, required := range executor.Requires() {
		if _, ok := r.executors[required]; !ok {
			return fmt.Errorf("stage %s requires unregistered stage %s", stage, required)
		}
	}
	r.executors[stage] = executor
	r.order = append(r.order, stage)
	return nil
}

// Get returns the executor of stage
func (r *StageRegistry) Get(stage entities.Stage) (providers.StageExecutor, bool) {
	executor, ok := r.executors[stage]
	return executor, ok
}

// Stages lists registered stages in registration order
func (r *StageRegistry) Stages() []entities.Stage {
	return append([]entities.Stage(nil), r.order...)
}

// EntryStages lists stages without requirements
func (r *StageRegistry) EntryStages() []entities.Stage {
	var stages []entities.Stage
	for _, stage := range r.order {
		if len(r.executors[stage].Requires()) == 0 {
			stages = append(stages, stage)
		}
	}
	return stages
}

// Dependents lists stages that directly require stage
func (r *StageRegistry) Dependents(stage entities.Stage) []entities.Stage {
	var stages []entities.Stage
	for _, candidate := range r.order {
		for _, required := range r.executors[candidate].Requires() {
			if required == stage {
				stages = append(stages, candidate)
				break
			}
		}
	}
	return stages
}
