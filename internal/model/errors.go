package model

import (
	"fmt"
	"time"
)

// MissingDependencyError means a required upstream artifact was absent.
// It is fatal to the run: no partial result is produced.
type MissingDependencyError struct {
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing required dependency: %s", e.Dependency)
}

// AgentTimeoutError means one agent exceeded its time budget. The run
// continues; the agent's slot degrades to a blocking validation error.
type AgentTimeoutError struct {
	Agent   string
	Timeout time.Duration
}

func (e *AgentTimeoutError) Error() string {
	return fmt.Sprintf("agent %s exceeded time budget %s", e.Agent, e.Timeout)
}

// GroundTruthUnavailableError signals that no reference field set exists for
// a given id. Accuracy features degrade to "unavailable" rather than fail.
type GroundTruthUnavailableError struct {
	ReferenceID string
}

func (e *GroundTruthUnavailableError) Error() string {
	return fmt.Sprintf("ground truth unavailable for %s", e.ReferenceID)
}
