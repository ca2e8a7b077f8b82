package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// JobSpec describes one job within a submitted branch.
type JobSpec struct {
	Type           string                 `json:"type" validate:"required"`
	InputImagePath string                 `json:"input_image_path" validate:"required"`
	Params         map[string]interface{} `json:"params,omitempty"`
}

// BranchSpec describes one ordered chain of jobs.
type BranchSpec struct {
	ID   string    `json:"id,omitempty"`
	Jobs []JobSpec `json:"jobs" validate:"required,min=1,dive"`
}

// WorkflowCreate is the submission payload for a new workflow.
type WorkflowCreate struct {
	Name     string       `json:"name,omitempty"`
	Branches []BranchSpec `json:"branches" validate:"required,min=1,dive"`
}

// Validate checks the structural invariants of the submission. Violations
// are reported as INVALID_DAG and the whole submission is rejected.
func (wc *WorkflowCreate) Validate(knownTypes func(string) bool) error {
	if err := validate.Struct(wc); err != nil {
		return NewError(ErrInvalidDAG, "invalid workflow submission: %s", firstValidationError(err))
	}

	seen := make(map[string]bool, len(wc.Branches))
	for i, b := range wc.Branches {
		if b.ID != "" {
			if seen[b.ID] {
				return NewError(ErrInvalidDAG, "duplicate branch id %q", b.ID)
			}
			seen[b.ID] = true
		}
		for j, job := range b.Jobs {
			if knownTypes != nil && !knownTypes(job.Type) {
				return NewError(ErrInvalidDAG, "branch %d job %d: unknown job type %q", i, j, job.Type)
			}
		}
	}
	return nil
}

func firstValidationError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return err.Error()
}
