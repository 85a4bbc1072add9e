package transport

import (
	"time"

	"github.com/Rubentxu/hodei-pipelines/pkg/artifact"
	"github.com/Rubentxu/hodei-pipelines/pkg/errdefs"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
	"github.com/Rubentxu/hodei-pipelines/pkg/wire"
)

// Dispatch validates the worker connection and hands the job to a
// per-dispatch goroutine: artifact negotiation can stall for minutes,
// so the scheduler loop never waits on it. The dispatch window is
// armed once the job request is on the wire; later failures are
// reported through the lifecycle.
func (s *Server) Dispatch(job *types.Job, exec *types.Execution) error {
	sess, err := s.session(exec.WorkerID)
	if err != nil {
		return err
	}
	go s.dispatch(sess, job, exec)
	return nil
}

func (s *Server) dispatch(sess *session, job *types.Job, exec *types.Execution) {
	if len(job.Content.ArtifactIDs) > 0 {
		if err := s.shipArtifacts(sess, job); err != nil {
			s.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("execution_id", exec.ID).
				Str("worker_id", exec.WorkerID).
				Msg("artifact negotiation failed")
			_ = s.lifecycle.HandleStatus(exec.ID, types.ExecutionStatusFailed, -1, err.Error())
			return
		}
	}

	req := &wire.JobRequest{
		ExecutionID:          exec.ID,
		JobID:                job.ID,
		Name:                 job.Name,
		Commands:             job.Content.Commands,
		Script:               job.Content.Script,
		Env:                  job.Content.Env,
		Parameters:           job.Content.Parameters,
		TimeoutSeconds:       uint32(types.ClampJobTimeout(job.Timeout) / time.Second),
		ArtifactIDs:          job.Content.ArtifactIDs,
		RequiredCapabilities: job.RequiredCapabilities,
	}
	if !sess.send(req) {
		_ = s.lifecycle.HandleStatus(exec.ID, types.ExecutionStatusFailed, -1,
			"worker went away during dispatch")
		return
	}
	s.lifecycle.Dispatched(exec.ID)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("execution_id", exec.ID).
		Str("worker_id", exec.WorkerID).
		Msg("job dispatched")
}

// shipArtifacts asks the worker which inputs it already caches and
// streams over the rest.
func (s *Server) shipArtifacts(sess *session, job *types.Job) error {
	replyCh := sess.expect(cacheKey(job.ID))
	if !sess.send(&wire.CacheQuery{JobID: job.ID, ArtifactIDs: job.Content.ArtifactIDs}) {
		sess.forget(cacheKey(job.ID))
		return errdefs.Newf(errdefs.KindWorkerDisconnected, "worker %s went away during cache query", sess.workerID)
	}

	var missing []string
	select {
	case msg := <-replyCh:
		resp := msg.(*wire.CacheResponse)
		cached := make(map[string]bool, len(resp.Entries))
		for _, e := range resp.Entries {
			cached[e.ArtifactID] = e.Cached
		}
		for _, id := range job.Content.ArtifactIDs {
			if !cached[id] {
				missing = append(missing, id)
			}
		}
	case <-time.After(s.cfg.TransferTimeout):
		sess.forget(cacheKey(job.ID))
		return errdefs.Newf(errdefs.KindDispatchTimeout, "cache query to worker %s timed out", sess.workerID)
	case <-sess.done:
		sess.forget(cacheKey(job.ID))
		return errdefs.Newf(errdefs.KindWorkerDisconnected, "worker %s went away during cache query", sess.workerID)
	}

	for _, id := range missing {
		if err := s.transferArtifact(sess, id); err != nil {
			return err
		}
	}
	return nil
}

// transferArtifact streams one artifact, retrying failed transfers up
// to the configured attempt budget.
func (s *Server) transferArtifact(sess *session, artifactID string) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.TransferAttempts; attempt++ {
		lastErr = s.transferOnce(sess, artifactID)
		if lastErr == nil {
			return nil
		}
		if errdefs.KindOf(lastErr) == errdefs.KindWorkerDisconnected {
			return lastErr
		}
		s.logger.Warn().Err(lastErr).
			Str("artifact_id", artifactID).
			Str("worker_id", sess.workerID).
			Int("attempt", attempt).
			Msg("artifact transfer failed")
	}
	return errdefs.Wrap(errdefs.KindCorruptArtifact,
		"artifact transfer attempts exhausted: "+artifactID, lastErr)
}

func (s *Server) transferOnce(sess *session, artifactID string) error {
	replyCh := sess.expect(ackKey(artifactID))
	defer sess.forget(ackKey(artifactID))

	err := s.cache.ChunkStream(artifactID, s.cfg.ChunkBytes, s.cfg.Compression, func(c artifact.Chunk) error {
		if !sess.send(&wire.ArtifactChunk{
			ArtifactID:   c.ArtifactID,
			Seq:          c.Seq,
			Data:         c.Data,
			Last:         c.Last,
			Compression:  uint8(c.Compression),
			OriginalSize: c.OriginalSize,
		}) {
			return errdefs.Newf(errdefs.KindWorkerDisconnected, "worker %s went away mid-transfer", sess.workerID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case msg := <-replyCh:
		ack := msg.(*wire.ArtifactAck)
		if !ack.Success {
			return errdefs.Newf(errdefs.KindCorruptArtifact,
				"worker rejected artifact %s: %s", artifactID, ack.Message)
		}
		return nil
	case <-time.After(s.cfg.TransferTimeout):
		return errdefs.Newf(errdefs.KindDispatchTimeout, "artifact ack for %s timed out", artifactID)
	case <-sess.done:
		return errdefs.Newf(errdefs.KindWorkerDisconnected, "worker %s went away awaiting ack", sess.workerID)
	}
}
