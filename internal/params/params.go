// Package params loads per-engine, per-task search parameters from a
// YAML file. It is a collaborator injected into the services; the
// protocol core itself never touches global configuration state.
package params

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pawnsight/uciflow/internal/uci"
)

// Task names a usage mode with its own parameter defaults.
const (
	TaskEvaluation = "evaluation"
	TaskBatch      = "batch"
	TaskExplore    = "explore"
)

// taskParams is the YAML shape of one task's parameters.
type taskParams struct {
	Threads    int               `yaml:"threads"`
	Depth      int               `yaml:"depth"`
	MoveTimeMS int               `yaml:"movetime_ms"`
	MultiPV    int               `yaml:"multipv"`
	Options    map[string]string `yaml:"options"`
}

// fileFormat maps engine path -> task name -> parameters.
type fileFormat map[string]map[string]taskParams

// Repository resolves task parameters for engine binaries from a YAML
// file loaded once at construction. Lookup misses and any load problem
// degrade to DefaultParameters; a corrupt configuration file must never
// propagate a parsing error into the protocol core.
type Repository struct {
	log     *slog.Logger
	entries fileFormat
}

// Load reads the parameter file at path. A missing or malformed file
// yields a repository that answers every lookup with defaults.
func Load(log *slog.Logger, path string) *Repository {
	repo := &Repository{log: log.With("component", "params")}

	data, err := os.ReadFile(path)
	if err != nil {
		repo.log.Debug("Parameter file not readable, using defaults", "path", path, "error", err)

		return repo
	}

	var entries fileFormat
	if err := yaml.Unmarshal(data, &entries); err != nil {
		repo.log.Warn("Parameter file malformed, using defaults", "path", path, "error", err)

		return repo
	}

	repo.entries = entries

	return repo
}

// TaskParameters returns the parameters configured for enginePath and
// task, or DefaultParameters(task) when nothing is configured.
func (r *Repository) TaskParameters(enginePath, task string) uci.ParameterSet {
	tasks, ok := r.entries[enginePath]
	if !ok {
		return DefaultParameters(task)
	}

	tp, ok := tasks[task]
	if !ok {
		return DefaultParameters(task)
	}

	set := uci.ParameterSet{
		Threads:  tp.Threads,
		Depth:    tp.Depth,
		MoveTime: time.Duration(tp.MoveTimeMS) * time.Millisecond,
		MultiPV:  tp.MultiPV,
		Options:  tp.Options,
	}

	applyTaskFloor(task, &set)

	return set
}

// DefaultParameters is the documented fallback per task: unbounded
// single-line search for continuous evaluation, a bounded three-line
// search for batch work, and a three-line unbounded search for
// exploration.
func DefaultParameters(task string) uci.ParameterSet {
	set := uci.ParameterSet{Threads: 1, MultiPV: 1}

	switch task {
	case TaskBatch:
		set.MoveTime = 4 * time.Second
		set.MultiPV = 3
	case TaskExplore:
		set.MultiPV = 3
	}

	return set
}

// applyTaskFloor fixes configured values that would break the task:
// batch searches must be bounded or they never finish, and a missing
// MultiPV falls back to the task default so the line count is always
// re-asserted when a search starts.
func applyTaskFloor(task string, set *uci.ParameterSet) {
	if task == TaskBatch && set.Unbounded() {
		set.MoveTime = 4 * time.Second
	}

	if set.MultiPV <= 0 {
		set.MultiPV = DefaultParameters(task).MultiPV
	}
}
