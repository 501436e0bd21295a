// Package temporal wires the service to its Temporal cluster: client
// construction, worker lifecycle, and the typed facade the server layer uses
// to start, pause, cancel, and query batch matching workflows.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Signal and query names for external interaction with batch workflows.
// Defined here (not in the workflows package) so the server layer can
// reference them without depending on the workflow implementation.
const (
	// SignalPause requests a cooperative pause: the workflow stops
	// dispatching new items, drains the in-flight ones, and exits with the
	// job left paused.
	SignalPause = "pause"

	// SignalCancel requests workflow cancellation.
	SignalCancel = "cancel"

	// QueryProgress retrieves the workflow's progress counters.
	QueryProgress = "progress"
)

// Default timeout constants for workflow execution and health checks.
const (
	// DefaultWorkflowExecutionTimeout is the maximum time a batch matching
	// workflow run is allowed to take.
	DefaultWorkflowExecutionTimeout = 12 * time.Hour

	// DefaultHealthCheckTimeout is the timeout for Temporal server health checks.
	DefaultHealthCheckTimeout = 5 * time.Second
)

// Sentinel errors mapped from Temporal service errors.
var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a workflow with the same ID is already running.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrQueryFailed indicates the workflow query failed.
	ErrQueryFailed = errors.New("query failed")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates a connection failure to the Temporal server.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeadlineExceeded indicates the operation deadline was exceeded.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal error with operation context.
type TemporalError struct {
	Op         string // Operation that failed
	Kind       error  // Category of error (sentinel)
	WorkflowID string // Workflow ID (if applicable)
	RunID      string // Run ID (if applicable)
	Err        error  // Underlying error
}

// Error returns the error message.
func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s", e.WorkflowID)
		if e.RunID != "" {
			msg += fmt.Sprintf(", runID=%s", e.RunID)
		}
		msg += "]"
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError converts a Temporal SDK error to a TemporalError.
func wrapTemporalError(op string, err error, workflowID, runID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{
		Op:         op,
		WorkflowID: workflowID,
		RunID:      runID,
		Err:        err,
	}

	var notFoundErr *serviceerror.NotFound
	var alreadyStartedErr *serviceerror.WorkflowExecutionAlreadyStarted
	var namespaceNotFoundErr *serviceerror.NamespaceNotFound
	var invalidArgumentErr *serviceerror.InvalidArgument
	var deadlineExceededErr *serviceerror.DeadlineExceeded
	var queryFailedErr *serviceerror.QueryFailed
	var unavailableErr *serviceerror.Unavailable

	switch {
	case errors.As(err, &notFoundErr):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStartedErr):
		te.Kind = ErrWorkflowAlreadyStarted
	case errors.As(err, &namespaceNotFoundErr):
		te.Kind = ErrNamespaceNotFound
	case errors.As(err, &invalidArgumentErr):
		te.Kind = ErrInvalidArgument
	case errors.As(err, &deadlineExceededErr):
		te.Kind = ErrDeadlineExceeded
	case errors.As(err, &queryFailedErr):
		te.Kind = ErrQueryFailed
	case errors.As(err, &unavailableErr):
		te.Kind = ErrConnectionFailed
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			te.Kind = ErrDeadlineExceeded
		} else if errors.Is(err, context.Canceled) {
			te.Kind = ErrClientClosed
		} else {
			te.Kind = ErrConnectionFailed
		}
	}

	return te
}

// IsWorkflowNotFound checks if the error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowAlreadyStarted checks if the error indicates a workflow already started.
func IsWorkflowAlreadyStarted(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyStarted)
}

// IsConnectionFailed checks if the error indicates a connection failure.
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// ClientConfig contains configuration for the Temporal client.
type ClientConfig struct {
	// HostPort is the Temporal server address (e.g., "localhost:7233").
	HostPort string

	// Namespace is the Temporal namespace to use.
	Namespace string

	// TaskQueue is the default task queue for starting workflows.
	TaskQueue string

	// HealthCheckTimeout is the timeout for health check operations.
	// Defaults to 5 seconds if not set.
	HealthCheckTimeout time.Duration
}

// NewClient creates a new Temporal client with the given configuration.
func NewClient(cfg ClientConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// BatchWorkflowInput contains the parameters for starting a batch matching
// workflow run. Defined here so the server layer can construct workflow
// inputs without importing the workflows package.
type BatchWorkflowInput struct {
	// JobID is the batch job this run processes.
	JobID uuid.UUID

	// Resume marks this run as a resume pass: items left queued by a pause
	// and items that errored on the previous pass are selected again.
	Resume bool
}

// WorkflowProgress is the answer to the progress query: counters for the
// current workflow run, not job lifetime totals.
type WorkflowProgress struct {
	// Phase names the coordinator's current step.
	Phase string `json:"phase"`

	// TotalItems is the number of items selected for this run.
	TotalItems int `json:"total_items"`

	// Dispatched is the number of items handed to the worker pool.
	Dispatched int `json:"dispatched"`

	// Processed is the number of items finished in this run.
	Processed int `json:"processed"`

	// Errored is the number of items that ended this run in error.
	Errored int `json:"errored"`

	// NeedsReview is the number of items flagged for review in this run.
	NeedsReview int `json:"needs_review"`

	// InFlight is the number of items currently being processed.
	InFlight int `json:"in_flight"`

	// Paused reports whether a pause has been requested.
	Paused bool `json:"paused"`
}

// WorkflowIDForJob builds the deterministic workflow ID for a job. Resume
// runs reuse the ID; Temporal allows it because the previous run has closed.
func WorkflowIDForJob(jobID uuid.UUID) string {
	return "boq-match-" + jobID.String()
}

// BatchWorkflowClient provides methods for starting and managing batch
// matching workflows.
type BatchWorkflowClient struct {
	mu                 sync.RWMutex
	client             client.Client
	taskQueue          string
	healthCheckTimeout time.Duration
	closed             bool
}

// NewBatchWorkflowClient creates a new BatchWorkflowClient.
func NewBatchWorkflowClient(c client.Client, taskQueue string) *BatchWorkflowClient {
	return &BatchWorkflowClient{
		client:             c,
		taskQueue:          taskQueue,
		healthCheckTimeout: DefaultHealthCheckTimeout,
	}
}

// Close closes the underlying Temporal client connection.
func (c *BatchWorkflowClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && !c.closed {
		c.client.Close()
		c.closed = true
	}
}

// isClosed returns whether the client has been closed. Safe for concurrent use.
func (c *BatchWorkflowClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health checks the connection health to the Temporal server.
func (c *BatchWorkflowClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.healthCheckTimeout)
	defer cancel()

	_, err := c.client.CheckHealth(checkCtx, &client.CheckHealthRequest{})
	if err != nil {
		return wrapTemporalError("Health", err, "", "")
	}
	return nil
}

// StartBatchWorkflow starts a batch matching workflow run for the job.
// The workflow function must be registered with the worker separately.
func (c *BatchWorkflowClient) StartBatchWorkflow(ctx context.Context, input BatchWorkflowInput, workflowFunc interface{}) (workflowID, runID string, err error) {
	if c.isClosed() {
		return "", "", &TemporalError{Op: "StartBatchWorkflow", Kind: ErrClientClosed}
	}

	workflowID = WorkflowIDForJob(input.JobID)
	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: DefaultWorkflowExecutionTimeout,
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, workflowFunc, input)
	if err != nil {
		return "", "", wrapTemporalError("StartBatchWorkflow", err, workflowID, "")
	}
	return workflowID, run.GetRunID(), nil
}

// PauseWorkflow sends the pause signal to a running workflow.
func (c *BatchWorkflowClient) PauseWorkflow(ctx context.Context, workflowID, requestedBy string) error {
	if c.isClosed() {
		return &TemporalError{Op: "PauseWorkflow", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	err := c.client.SignalWorkflow(ctx, workflowID, "", SignalPause, PauseRequest{RequestedBy: requestedBy})
	if err != nil {
		return wrapTemporalError("PauseWorkflow", err, workflowID, "")
	}
	return nil
}

// CancelWorkflow cancels a running workflow.
func (c *BatchWorkflowClient) CancelWorkflow(ctx context.Context, workflowID string) error {
	if c.isClosed() {
		return &TemporalError{Op: "CancelWorkflow", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	err := c.client.CancelWorkflow(ctx, workflowID, "")
	if err != nil {
		return wrapTemporalError("CancelWorkflow", err, workflowID, "")
	}
	return nil
}

// Progress queries a running workflow's progress counters.
func (c *BatchWorkflowClient) Progress(ctx context.Context, workflowID string) (*WorkflowProgress, error) {
	if c.isClosed() {
		return nil, &TemporalError{Op: "Progress", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	resp, err := c.client.QueryWorkflow(ctx, workflowID, "", QueryProgress)
	if err != nil {
		return nil, wrapTemporalError("Progress", err, workflowID, "")
	}

	var progress WorkflowProgress
	if err := resp.Get(&progress); err != nil {
		return nil, &TemporalError{
			Op:         "Progress",
			Kind:       ErrQueryFailed,
			WorkflowID: workflowID,
			Err:        fmt.Errorf("decode query result: %w", err),
		}
	}
	return &progress, nil
}

// GetWorkflowResult waits for a workflow run to complete and decodes its result.
func (c *BatchWorkflowClient) GetWorkflowResult(ctx context.Context, workflowID, runID string, result interface{}) error {
	if c.isClosed() {
		return &TemporalError{Op: "GetWorkflowResult", Kind: ErrClientClosed, WorkflowID: workflowID, RunID: runID}
	}

	run := c.client.GetWorkflow(ctx, workflowID, runID)
	if err := run.Get(ctx, result); err != nil {
		return wrapTemporalError("GetWorkflowResult", err, workflowID, runID)
	}
	return nil
}

// Client returns the underlying Temporal client for advanced operations.
func (c *BatchWorkflowClient) Client() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue name.
func (c *BatchWorkflowClient) TaskQueue() string {
	return c.taskQueue
}

// PauseRequest is the payload of the pause signal.
type PauseRequest struct {
	// RequestedBy records who asked for the pause.
	RequestedBy string `json:"requested_by"`

	// Reason provides optional context about the pause.
	Reason string `json:"reason"`
}
