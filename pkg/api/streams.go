package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// logLine is one NDJSON record of the log stream.
type logLine struct {
	Stream    string    `json:"stream"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
	Lagged    bool      `json:"lagged,omitempty"`
}

func streamName(s types.LogStream) string {
	if s == types.LogStreamStderr {
		return "stderr"
	}
	return "stdout"
}

// handleExecutionLogs returns buffered logs, or streams NDJSON live
// with ?follow=true.
func (s *Server) handleExecutionLogs(c echo.Context) error {
	id := c.Param("id")

	if c.QueryParam("follow") != "true" {
		entries := s.orch.ExecutionLogs(id)
		out := make([]logLine, 0, len(entries))
		for _, e := range entries {
			out = append(out, logLine{
				Stream:    streamName(e.Stream),
				Timestamp: e.Timestamp,
				Line:      e.Line,
			})
		}
		return c.JSON(http.StatusOK, out)
	}

	sub := s.orch.FollowExecutionLogs(id)
	defer sub.Cancel()

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())

	for {
		select {
		case item, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := enc.Encode(logLine{
				Stream:    streamName(item.Entry.Stream),
				Timestamp: item.Entry.Timestamp,
				Line:      item.Entry.Line,
				Lagged:    item.Lagged,
			}); err != nil {
				return nil
			}
			c.Response().Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// eventLine is one NDJSON record of the event stream.
type eventLine struct {
	Type        types.EventType `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	ExecutionID string          `json:"execution_id,omitempty"`
	JobID       string          `json:"job_id,omitempty"`
	Message     string          `json:"message,omitempty"`
	Lagged      bool            `json:"lagged,omitempty"`
}

// handleExecutionEvents streams an execution's events as NDJSON,
// replaying history from ?from=<RFC3339> first.
func (s *Server) handleExecutionEvents(c echo.Context) error {
	id := c.Param("id")

	var from time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid 'from' timestamp")
		}
		from = t
	}

	sub := s.orch.ExecutionEvents(id, from)
	defer sub.Cancel()

	c.Response().Header().Set(echo.HeaderContentType, "application/x-ndjson")
	c.Response().WriteHeader(http.StatusOK)
	enc := json.NewEncoder(c.Response())

	for {
		select {
		case item, ok := <-sub.C():
			if !ok {
				return nil
			}
			line := eventLine{Lagged: item.Lagged}
			if item.Event != nil {
				line.Type = item.Event.Type
				line.Timestamp = item.Event.Timestamp
				line.ExecutionID = item.Event.ExecutionID
				line.JobID = item.Event.JobID
				line.Message = item.Event.Message
			}
			if err := enc.Encode(line); err != nil {
				return nil
			}
			c.Response().Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
