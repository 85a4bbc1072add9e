package types

import (
	"time"
)

// Job is a user-submitted unit of work. The submission descriptor is
// immutable after Submit; only Status, Attempts and UpdatedAt change.
type Job struct {
	ID                   string
	Name                 string
	TemplateID           string
	Priority             Priority
	Content              *JobContent
	Resources            *ResourceRequest
	RequiredCapabilities map[string]string // Worker must declare all of these
	Retry                *RetryPolicy
	Timeout              time.Duration // Per-job execution timeout (default 1h, max 24h)
	Namespace            string        // Quota scope
	CreatedBy            string
	Status               JobStatus
	Attempts             int // Executions created so far
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// JobContent describes what the worker runs.
type JobContent struct {
	Commands    []string // Shell command list (one process per entry)
	Script      string   // Alternative: script text piped to the shell
	Env         map[string]string
	Parameters  map[string]string
	ArtifactIDs []string // Content-addressed inputs shipped before start
}

// JobTemplate is a reusable job definition with parameter placeholders.
type JobTemplate struct {
	ID                   string
	Name                 string
	Description          string
	Content              *JobContent
	Priority             Priority
	Resources            *ResourceRequest
	RequiredCapabilities map[string]string
	Retry                *RetryPolicy
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Priority orders jobs in the queue. Higher dispatches first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParsePriority maps a user-facing name to a Priority. Unknown names
// fall back to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// JobStatus is the lifecycle state of a Job. Terminal states are final.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending" // Claimed by the scheduler, assignment in flight
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// RetryPolicy controls re-queueing of failed jobs.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// Delay returns the backoff before retry number attempt (0-based):
// baseDelay * multiplier^attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Execution is one attempt to run a Job on a worker. A retried Job
// produces a new Execution with a fresh ID.
type Execution struct {
	ID         string
	JobID      string
	PoolID     string
	WorkerID   string
	Status     ExecutionStatus
	Result     *ExecutionResult
	Error      *ExecutionError
	Metrics    map[string]float64
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecutionStatus is the state machine position of an Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ExecutionResult is set on terminal transitions.
type ExecutionResult struct {
	ExitCode    int
	Message     string
	ArtifactIDs []string // Outputs published by the worker
}

// ExecutionError carries the semantic failure kind alongside the message.
type ExecutionError struct {
	Kind    string
	Message string
}

// Pool groups workers behind a provisioner and is the capacity domain
// the scheduler reserves against.
type Pool struct {
	ID          string
	Name        string
	Type        PoolType
	Status      PoolStatus
	Capacity    *PoolCapacity
	Scaling     *ScalingPolicy
	QuotaIDs    []string
	Maintenance *MaintenanceState
	Labels      map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PoolType selects the provisioner backend.
type PoolType string

const (
	PoolTypeKubernetes PoolType = "kubernetes"
	PoolTypeDocker     PoolType = "docker"
	PoolTypeVM         PoolType = "vm"
	PoolTypeBareMetal  PoolType = "bare_metal"
	PoolTypeLocal      PoolType = "local"
)

// PoolStatus is the pool lifecycle state.
type PoolStatus string

const (
	PoolStatusProvisioning PoolStatus = "provisioning"
	PoolStatusActive       PoolStatus = "active"
	PoolStatusDraining     PoolStatus = "draining"
	PoolStatusDrained      PoolStatus = "drained"
	PoolStatusMaintenance  PoolStatus = "maintenance"
	PoolStatusError        PoolStatus = "error"
)

// PoolCapacity tracks aggregate resources. Invariant: Used + Available <= Total
// for every dimension.
type PoolCapacity struct {
	Total     Resources
	Used      Resources
	Available Resources

	TotalSlots int
	UsedSlots  int
}

// ScalingPolicy bounds automatic worker provisioning for a pool.
type ScalingPolicy struct {
	MinWorkers     int
	MaxWorkers     int
	ScaleUpPending int // Queued jobs per idle worker before scaling up
}

// MaintenanceState flags a pool under maintenance.
type MaintenanceState struct {
	Reason       string
	AllowNewJobs bool
	Since        time.Time
}

// Resources is a resource vector used for capacity, requests and worker
// inventories.
type Resources struct {
	CPUCores float64
	MemoryMB int64
	DiskGB   int64
}

// Fits reports whether r can accommodate req in every dimension.
func (r Resources) Fits(req Resources) bool {
	return r.CPUCores >= req.CPUCores && r.MemoryMB >= req.MemoryMB && r.DiskGB >= req.DiskGB
}

// Add returns r + o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPUCores: r.CPUCores + o.CPUCores,
		MemoryMB: r.MemoryMB + o.MemoryMB,
		DiskGB:   r.DiskGB + o.DiskGB,
	}
}

// Sub returns r - o, floored at zero per dimension.
func (r Resources) Sub(o Resources) Resources {
	out := Resources{
		CPUCores: r.CPUCores - o.CPUCores,
		MemoryMB: r.MemoryMB - o.MemoryMB,
		DiskGB:   r.DiskGB - o.DiskGB,
	}
	if out.CPUCores < 0 {
		out.CPUCores = 0
	}
	if out.MemoryMB < 0 {
		out.MemoryMB = 0
	}
	if out.DiskGB < 0 {
		out.DiskGB = 0
	}
	return out
}

// ResourceRequest is what a Job asks for on dispatch.
type ResourceRequest struct {
	CPUCores float64
	MemoryMB int64
	DiskGB   int64
}

// AsResources converts the request into a resource vector.
func (r *ResourceRequest) AsResources() Resources {
	if r == nil {
		return Resources{}
	}
	return Resources{CPUCores: r.CPUCores, MemoryMB: r.MemoryMB, DiskGB: r.DiskGB}
}

// Worker is a remote process executing jobs. It is referenced by ID;
// the process itself lives outside the orchestrator.
type Worker struct {
	ID                 string
	Name               string
	PoolID             string
	Status             WorkerStatus
	Capabilities       map[string]string
	Resources          Resources
	CurrentExecutionID string // Non-empty iff Status == busy
	SessionToken       string
	LastHeartbeat      time.Time
	RegisteredAt       time.Time
}

// WorkerStatus is the worker lifecycle state.
type WorkerStatus string

const (
	WorkerStatusProvisioning WorkerStatus = "provisioning"
	WorkerStatusIdle         WorkerStatus = "idle"
	WorkerStatusBusy         WorkerStatus = "busy"
	WorkerStatusDraining     WorkerStatus = "draining"
	WorkerStatusMaintenance  WorkerStatus = "maintenance"
	WorkerStatusTerminating  WorkerStatus = "terminating"
	WorkerStatusTerminated   WorkerStatus = "terminated"
	WorkerStatusError        WorkerStatus = "error"
)

// Terminated reports whether the worker no longer contributes capacity.
func (s WorkerStatus) Terminated() bool {
	return s == WorkerStatusTerminating || s == WorkerStatusTerminated
}

// HasCapabilities reports whether the worker declares every required
// capability with a matching value. An empty requirement always matches.
func (w *Worker) HasCapabilities(required map[string]string) bool {
	for k, v := range required {
		if got, ok := w.Capabilities[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// Artifact metadata. The ID is the lowercase hex SHA-256 of the
// uncompressed bytes; bytes at a given ID never change.
type Artifact struct {
	ID          string
	Name        string
	Type        string
	Size        int64 // Uncompressed
	Compression Compression
	CreatedAt   time.Time
}

// Compression identifies the on-the-wire artifact encoding.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
)

func (c Compression) String() string {
	if c == CompressionGzip {
		return "gzip"
	}
	return "none"
}

// Quota limits resource consumption within a namespace.
type Quota struct {
	ID        string
	Namespace string
	Policy    QuotaPolicy
	Limits    QuotaLimits
	Usage     QuotaUsage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuotaPolicy selects enforcement behavior.
type QuotaPolicy string

const (
	QuotaPolicyEnforce QuotaPolicy = "enforce"
	QuotaPolicyWarn    QuotaPolicy = "warn"
	QuotaPolicyMonitor QuotaPolicy = "monitor"
)

// QuotaLimits are the configured ceilings. Zero means unlimited.
type QuotaLimits struct {
	MaxConcurrentJobs int
	MaxCPUCores       float64
	MaxMemoryMB       int64
	MaxJobsPerHour    int
	MaxJobsPerDay     int
}

// QuotaUsage are the live counters. Under enforce they never exceed
// the corresponding limits.
type QuotaUsage struct {
	ConcurrentJobs int
	CPUCores       float64
	MemoryMB       int64
	JobsThisHour   int
	JobsToday      int
}

// Event is an immutable record published on the event bus.
type Event struct {
	ID          string
	Type        EventType
	Timestamp   time.Time
	JobID       string
	ExecutionID string
	WorkerID    string
	PoolID      string
	Message     string
	Payload     map[string]string
}

// EventType namespaces events by resource kind.
type EventType string

const (
	EventJobCreated         EventType = "job.created"
	EventJobRetried         EventType = "job.retried"
	EventJobCompleted       EventType = "job.completed"
	EventJobFailed          EventType = "job.failed"
	EventJobCancelled       EventType = "job.cancelled"
	EventExecutionCreated   EventType = "execution.created"
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventExecutionCancelled EventType = "execution.cancelled"
	EventWorkerRegistered   EventType = "worker.registered"
	EventWorkerLost         EventType = "worker.lost"
	EventWorkerTerminated   EventType = "worker.terminated"
	EventPoolCreated        EventType = "pool.created"
	EventPoolDraining       EventType = "pool.draining"
	EventPoolResumed        EventType = "pool.resumed"
	EventQuotaWarning       EventType = "quota.warning"
	EventSystemError        EventType = "system.error"
)

// LogEntry is one log record streamed from a worker for an execution.
type LogEntry struct {
	ExecutionID string
	Stream      LogStream
	Timestamp   time.Time
	Line        string
}

// LogStream distinguishes stdout from stderr.
type LogStream uint8

const (
	LogStreamStdout LogStream = 0
	LogStreamStderr LogStream = 1
)

func (s LogStream) String() string {
	if s == LogStreamStderr {
		return "stderr"
	}
	return "stdout"
}
