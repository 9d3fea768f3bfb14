package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// WorkflowParent builds the resource name of a workflow.
func WorkflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// WorkflowLauncher starts executions of a single workflow.
type WorkflowLauncher struct {
	client *executions.Client
	parent string
}

func NewWorkflowLauncher(ctx context.Context, parent string) (*WorkflowLauncher, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowLauncher{client: client, parent: parent}, nil
}

// Trigger starts an execution with payload marshalled as its JSON argument
// and returns the execution name.
func (w *WorkflowLauncher) Trigger(ctx context.Context, payload any) (string, error) {
	req, err := executionRequest(w.parent, payload)
	if err != nil {
		return "", err
	}
	exec, err := w.client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return exec.GetName(), nil
}

func (w *WorkflowLauncher) Close() error {
	return w.client.Close()
}

func executionRequest(parent string, payload any) (*executionspb.CreateExecutionRequest, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return &executionspb.CreateExecutionRequest{
		Parent: parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}, nil
}
