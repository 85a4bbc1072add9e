package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Rubentxu/hodei-pipelines/pkg/orchestrator"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// submitJobRequest is the job submission payload.
type submitJobRequest struct {
	Name         string                 `json:"name"`
	Priority     types.Priority         `json:"priority"`
	Commands     []string               `json:"commands,omitempty"`
	Script       string                 `json:"script,omitempty"`
	Env          map[string]string      `json:"env,omitempty"`
	Parameters   map[string]string      `json:"parameters,omitempty"`
	Artifacts    []string               `json:"artifacts,omitempty"`
	Resources    *types.ResourceRequest `json:"resources,omitempty"`
	Capabilities map[string]string      `json:"capabilities,omitempty"`
	Retry        *types.RetryPolicy     `json:"retry,omitempty"`
	Timeout      time.Duration          `json:"timeout,omitempty"`
	Namespace    string                 `json:"namespace,omitempty"`
	CreatedBy    string                 `json:"created_by,omitempty"`
}

func (s *Server) handleSubmitJob(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, err := s.orch.SubmitJob(&types.Job{
		Name:     req.Name,
		Priority: req.Priority,
		Content: &types.JobContent{
			Commands:    req.Commands,
			Script:      req.Script,
			Env:         req.Env,
			Parameters:  req.Parameters,
			ArtifactIDs: req.Artifacts,
		},
		Resources:            req.Resources,
		RequiredCapabilities: req.Capabilities,
		Retry:                req.Retry,
		Timeout:              req.Timeout,
		Namespace:            req.Namespace,
		CreatedBy:            req.CreatedBy,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}

func (s *Server) handleListJobs(c echo.Context) error {
	filter := orchestrator.JobFilter{
		Status:    types.JobStatus(c.QueryParam("status")),
		Namespace: c.QueryParam("namespace"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = limit
	}
	jobs, err := s.orch.ListJobs(filter)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.orch.GetJob(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// cancelRequest is shared by job and execution cancellation.
type cancelRequest struct {
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelJob(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.CancelJob(c.Param("id"), req.Force, req.Reason); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleRetryJob(c echo.Context) error {
	job, err := s.orch.RetryJob(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleListExecutions(c echo.Context) error {
	execs, err := s.orch.ListExecutions(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, execs)
}

func (s *Server) handleGetExecution(c echo.Context) error {
	exec, err := s.orch.GetExecution(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) handleCancelExecution(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.CancelExecution(c.Param("id"), req.Force, req.Reason); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
