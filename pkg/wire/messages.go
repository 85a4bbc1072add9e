package wire

import (
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// Execution status values on the wire.
const (
	StatusPending   uint8 = 0
	StatusRunning   uint8 = 1
	StatusSuccess   uint8 = 2
	StatusFailed    uint8 = 3
	StatusCancelled uint8 = 4
)

// StatusFromWire maps a wire status byte to the domain status.
func StatusFromWire(v uint8) types.ExecutionStatus {
	switch v {
	case StatusRunning:
		return types.ExecutionStatusRunning
	case StatusSuccess:
		return types.ExecutionStatusSuccess
	case StatusFailed:
		return types.ExecutionStatusFailed
	case StatusCancelled:
		return types.ExecutionStatusCancelled
	default:
		return types.ExecutionStatusPending
	}
}

// StatusToWire maps a domain execution status to its wire byte.
func StatusToWire(s types.ExecutionStatus) uint8 {
	switch s {
	case types.ExecutionStatusRunning:
		return StatusRunning
	case types.ExecutionStatusSuccess:
		return StatusSuccess
	case types.ExecutionStatusFailed:
		return StatusFailed
	case types.ExecutionStatusCancelled:
		return StatusCancelled
	default:
		return StatusPending
	}
}

// Register is the first frame a worker sends on a new connection.
type Register struct {
	WorkerID     string
	Name         string
	PoolID       string
	Capabilities map[string]string
	CPUCores     float64
	MemoryMB     int64
	DiskGB       int64
}

func (*Register) Tag() Tag { return TagRegister }

func (m *Register) encode(e *encoder) {
	e.string(m.WorkerID)
	e.string(m.Name)
	e.string(m.PoolID)
	e.stringMap(m.Capabilities)
	e.f64(m.CPUCores)
	e.i64(m.MemoryMB)
	e.i64(m.DiskGB)
}

func (m *Register) decode(d *decoder) (err error) {
	if m.WorkerID, err = d.string(); err != nil {
		return err
	}
	if m.Name, err = d.string(); err != nil {
		return err
	}
	if m.PoolID, err = d.string(); err != nil {
		return err
	}
	if m.Capabilities, err = d.stringMap(); err != nil {
		return err
	}
	if m.CPUCores, err = d.f64(); err != nil {
		return err
	}
	if m.MemoryMB, err = d.i64(); err != nil {
		return err
	}
	m.DiskGB, err = d.i64()
	return err
}

// RegisterAck completes the handshake. On success it carries the session
// token the worker must present on every subsequent heartbeat.
type RegisterAck struct {
	Success                  bool
	Message                  string
	SessionToken             string
	HeartbeatIntervalSeconds uint32
}

func (*RegisterAck) Tag() Tag { return TagRegisterAck }

func (m *RegisterAck) encode(e *encoder) {
	e.bool(m.Success)
	e.string(m.Message)
	e.string(m.SessionToken)
	e.u32(m.HeartbeatIntervalSeconds)
}

func (m *RegisterAck) decode(d *decoder) (err error) {
	if m.Success, err = d.bool(); err != nil {
		return err
	}
	if m.Message, err = d.string(); err != nil {
		return err
	}
	if m.SessionToken, err = d.string(); err != nil {
		return err
	}
	m.HeartbeatIntervalSeconds, err = d.u32()
	return err
}

// JobRequest dispatches an execution to the worker. Required artifacts
// are negotiated (CacheQuery/CacheResponse) and streamed before this
// frame is sent.
type JobRequest struct {
	ExecutionID          string
	JobID                string
	Name                 string
	Commands             []string
	Script               string
	Env                  map[string]string
	Parameters           map[string]string
	TimeoutSeconds       uint32
	ArtifactIDs          []string
	RequiredCapabilities map[string]string
}

func (*JobRequest) Tag() Tag { return TagJobRequest }

func (m *JobRequest) encode(e *encoder) {
	e.string(m.ExecutionID)
	e.string(m.JobID)
	e.string(m.Name)
	e.stringSlice(m.Commands)
	e.string(m.Script)
	e.stringMap(m.Env)
	e.stringMap(m.Parameters)
	e.u32(m.TimeoutSeconds)
	e.stringSlice(m.ArtifactIDs)
	e.stringMap(m.RequiredCapabilities)
}

func (m *JobRequest) decode(d *decoder) (err error) {
	if m.ExecutionID, err = d.string(); err != nil {
		return err
	}
	if m.JobID, err = d.string(); err != nil {
		return err
	}
	if m.Name, err = d.string(); err != nil {
		return err
	}
	if m.Commands, err = d.stringSlice(); err != nil {
		return err
	}
	if m.Script, err = d.string(); err != nil {
		return err
	}
	if m.Env, err = d.stringMap(); err != nil {
		return err
	}
	if m.Parameters, err = d.stringMap(); err != nil {
		return err
	}
	if m.TimeoutSeconds, err = d.u32(); err != nil {
		return err
	}
	if m.ArtifactIDs, err = d.stringSlice(); err != nil {
		return err
	}
	m.RequiredCapabilities, err = d.stringMap()
	return err
}

// ArtifactChunk carries one ordered slice of an artifact transfer.
type ArtifactChunk struct {
	ArtifactID   string
	Seq          uint32
	Data         []byte
	Last         bool
	Compression  uint8
	OriginalSize uint64
}

func (*ArtifactChunk) Tag() Tag { return TagArtifactChunk }

func (m *ArtifactChunk) encode(e *encoder) {
	e.string(m.ArtifactID)
	e.u32(m.Seq)
	e.bytes(m.Data)
	e.bool(m.Last)
	e.u8(m.Compression)
	e.u64(m.OriginalSize)
}

func (m *ArtifactChunk) decode(d *decoder) (err error) {
	if m.ArtifactID, err = d.string(); err != nil {
		return err
	}
	if m.Seq, err = d.u32(); err != nil {
		return err
	}
	if m.Data, err = d.bytesField(); err != nil {
		return err
	}
	if m.Last, err = d.bool(); err != nil {
		return err
	}
	if m.Compression, err = d.u8(); err != nil {
		return err
	}
	m.OriginalSize, err = d.u64()
	return err
}

// CacheQuery asks the worker which of a job's artifacts it already holds.
type CacheQuery struct {
	JobID       string
	ArtifactIDs []string
}

func (*CacheQuery) Tag() Tag { return TagCacheQuery }

func (m *CacheQuery) encode(e *encoder) {
	e.string(m.JobID)
	e.stringSlice(m.ArtifactIDs)
}

func (m *CacheQuery) decode(d *decoder) (err error) {
	if m.JobID, err = d.string(); err != nil {
		return err
	}
	m.ArtifactIDs, err = d.stringSlice()
	return err
}

// CancelJob orders the worker to stop an execution. The worker must
// answer with a terminal StatusUpdate within the cancellation grace
// period.
type CancelJob struct {
	ExecutionID string
	Force       bool
	Reason      string
}

func (*CancelJob) Tag() Tag { return TagCancelJob }

func (m *CancelJob) encode(e *encoder) {
	e.string(m.ExecutionID)
	e.bool(m.Force)
	e.string(m.Reason)
}

func (m *CancelJob) decode(d *decoder) (err error) {
	if m.ExecutionID, err = d.string(); err != nil {
		return err
	}
	if m.Force, err = d.bool(); err != nil {
		return err
	}
	m.Reason, err = d.string()
	return err
}

// Shutdown tells the worker to drain and exit.
type Shutdown struct {
	Reason string
}

func (*Shutdown) Tag() Tag { return TagShutdown }

func (m *Shutdown) encode(e *encoder) { e.string(m.Reason) }

func (m *Shutdown) decode(d *decoder) (err error) {
	m.Reason, err = d.string()
	return err
}

// Heartbeat is the periodic liveness frame. The session token must match
// the worker's registration.
type Heartbeat struct {
	WorkerID           string
	SessionToken       string
	Status             uint8 // wire execution-capable status: 1 busy, 0 idle
	ActiveExecutionIDs []string
	Timestamp          time.Time
}

func (*Heartbeat) Tag() Tag { return TagHeartbeat }

func (m *Heartbeat) encode(e *encoder) {
	e.string(m.WorkerID)
	e.string(m.SessionToken)
	e.u8(m.Status)
	e.stringSlice(m.ActiveExecutionIDs)
	e.time(m.Timestamp)
}

func (m *Heartbeat) decode(d *decoder) (err error) {
	if m.WorkerID, err = d.string(); err != nil {
		return err
	}
	if m.SessionToken, err = d.string(); err != nil {
		return err
	}
	if m.Status, err = d.u8(); err != nil {
		return err
	}
	if m.ActiveExecutionIDs, err = d.stringSlice(); err != nil {
		return err
	}
	m.Timestamp, err = d.time()
	return err
}

// StatusUpdate reports an execution state change from the worker.
type StatusUpdate struct {
	ExecutionID string
	Status      uint8
	ExitCode    int32
	Message     string
	Timestamp   time.Time
}

func (*StatusUpdate) Tag() Tag { return TagStatusUpdate }

func (m *StatusUpdate) encode(e *encoder) {
	e.string(m.ExecutionID)
	e.u8(m.Status)
	e.i32(m.ExitCode)
	e.string(m.Message)
	e.time(m.Timestamp)
}

func (m *StatusUpdate) decode(d *decoder) (err error) {
	if m.ExecutionID, err = d.string(); err != nil {
		return err
	}
	if m.Status, err = d.u8(); err != nil {
		return err
	}
	if m.ExitCode, err = d.i32(); err != nil {
		return err
	}
	if m.Message, err = d.string(); err != nil {
		return err
	}
	m.Timestamp, err = d.time()
	return err
}

// LogChunk streams process output for an execution.
type LogChunk struct {
	ExecutionID string
	Stream      uint8 // 0 stdout, 1 stderr
	Data        []byte
	Timestamp   time.Time
}

func (*LogChunk) Tag() Tag { return TagLogChunk }

func (m *LogChunk) encode(e *encoder) {
	e.string(m.ExecutionID)
	e.u8(m.Stream)
	e.bytes(m.Data)
	e.time(m.Timestamp)
}

func (m *LogChunk) decode(d *decoder) (err error) {
	if m.ExecutionID, err = d.string(); err != nil {
		return err
	}
	if m.Stream, err = d.u8(); err != nil {
		return err
	}
	if m.Data, err = d.bytesField(); err != nil {
		return err
	}
	m.Timestamp, err = d.time()
	return err
}

// ArtifactAck confirms (or rejects) one artifact after query or transfer.
type ArtifactAck struct {
	ArtifactID string
	Success    bool
	CacheHit   bool
	Message    string
}

func (*ArtifactAck) Tag() Tag { return TagArtifactAck }

func (m *ArtifactAck) encode(e *encoder) {
	e.string(m.ArtifactID)
	e.bool(m.Success)
	e.bool(m.CacheHit)
	e.string(m.Message)
}

func (m *ArtifactAck) decode(d *decoder) (err error) {
	if m.ArtifactID, err = d.string(); err != nil {
		return err
	}
	if m.Success, err = d.bool(); err != nil {
		return err
	}
	if m.CacheHit, err = d.bool(); err != nil {
		return err
	}
	m.Message, err = d.string()
	return err
}

// CacheEntry is one membership answer inside a CacheResponse.
type CacheEntry struct {
	ArtifactID string
	Cached     bool
}

// CacheResponse answers a CacheQuery.
type CacheResponse struct {
	JobID   string
	Entries []CacheEntry
}

func (*CacheResponse) Tag() Tag { return TagCacheResponse }

func (m *CacheResponse) encode(e *encoder) {
	e.string(m.JobID)
	e.u32(uint32(len(m.Entries)))
	for _, entry := range m.Entries {
		e.string(entry.ArtifactID)
		e.bool(entry.Cached)
	}
}

func (m *CacheResponse) decode(d *decoder) (err error) {
	if m.JobID, err = d.string(); err != nil {
		return err
	}
	n, err := d.u32()
	if err != nil {
		return err
	}
	if n > 0 {
		m.Entries = make([]CacheEntry, 0, n)
	}
	for i := uint32(0); i < n; i++ {
		var entry CacheEntry
		if entry.ArtifactID, err = d.string(); err != nil {
			return err
		}
		if entry.Cached, err = d.bool(); err != nil {
			return err
		}
		m.Entries = append(m.Entries, entry)
	}
	return nil
}
