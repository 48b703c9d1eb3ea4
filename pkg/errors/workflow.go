package errors

import "fmt"

// WorkflowError extends Rich with the workflow/step context the orchestrator
// and step executor attach when a handler call fails, grounded on the
// teacher's WorkflowError extension over its own Rich type
// (pkg/common/errors/workflow_context.go in the teacher repo).
type WorkflowError struct {
	*Rich
	WorkflowID string
	Step       string
	StepIndex  int
}

// NewWorkflowError wraps a Rich error with workflow/step context.
func NewWorkflowError(code Code, domain, workflowID, step string, stepIndex int, msg string, cause error) *WorkflowError {
	return &WorkflowError{
		Rich:       New(code, domain, msg, cause),
		WorkflowID: workflowID,
		Step:       step,
		StepIndex:  stepIndex,
	}
}

func (w *WorkflowError) Error() string {
	base := w.Rich.Error()
	if w.WorkflowID != "" {
		return fmt.Sprintf("workflow=%s step=%s[%d]: %s", w.WorkflowID, w.Step, w.StepIndex, base)
	}
	return base
}

func (w *WorkflowError) Unwrap() error { return w.Rich }
