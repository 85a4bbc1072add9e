package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// createPoolRequest is the pool creation payload.
type createPoolRequest struct {
	Name    string               `json:"name"`
	Type    types.PoolType       `json:"type"`
	Scaling *types.ScalingPolicy `json:"scaling,omitempty"`
	Labels  map[string]string    `json:"labels,omitempty"`
}

func (s *Server) handleCreatePool(c echo.Context) error {
	var req createPoolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	pool := &types.Pool{
		Name:    req.Name,
		Type:    req.Type,
		Scaling: req.Scaling,
		Labels:  req.Labels,
	}
	if err := s.orch.Pools().Create(pool); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, pool)
}

func (s *Server) handleListPools(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Pools().List())
}

func (s *Server) handleGetPool(c echo.Context) error {
	pool, err := s.orch.Pools().Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pool)
}

func (s *Server) handleUpdatePool(c echo.Context) error {
	pool, err := s.orch.Pools().Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}

	var req createPoolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name != "" {
		pool.Name = req.Name
	}
	if req.Scaling != nil {
		pool.Scaling = req.Scaling
	}
	if req.Labels != nil {
		pool.Labels = req.Labels
	}

	if err := s.orch.Pools().Update(pool); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, pool)
}

func (s *Server) handleDeletePool(c echo.Context) error {
	if err := s.orch.Pools().Delete(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type drainRequest struct {
	Reason  string        `json:"reason,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	Force   bool          `json:"force,omitempty"`
}

func (s *Server) handleDrainPool(c echo.Context) error {
	var req drainRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.Pools().Drain(c.Param("id"), req.Reason, req.Timeout, req.Force); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleResumePool(c echo.Context) error {
	if err := s.orch.Pools().Resume(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

type maintenanceRequest struct {
	Reason       string `json:"reason,omitempty"`
	AllowNewJobs bool   `json:"allow_new_jobs,omitempty"`
}

func (s *Server) handlePoolMaintenance(c echo.Context) error {
	var req maintenanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.Pools().SetMaintenance(c.Param("id"), req.Reason, req.AllowNewJobs); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusOK)
}

type scaleRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleScalePool(c echo.Context) error {
	var req scaleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Count <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "count must be positive")
	}

	workers, err := s.orch.Pools().ScaleUp(c.Request().Context(), c.Param("id"), req.Count)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string][]string{"workers": workers})
}
