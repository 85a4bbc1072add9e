package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

// quotaRequest is the quota create/update payload.
type quotaRequest struct {
	Namespace string            `json:"namespace"`
	Policy    types.QuotaPolicy `json:"policy"`
	Limits    types.QuotaLimits `json:"limits"`
}

func (s *Server) handleCreateQuota(c echo.Context) error {
	var req quotaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	q := &types.Quota{
		Namespace: req.Namespace,
		Policy:    req.Policy,
		Limits:    req.Limits,
	}
	if err := s.orch.Quotas().Create(q); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (s *Server) handleListQuotas(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Quotas().List())
}

func (s *Server) handleGetQuota(c echo.Context) error {
	q, err := s.orch.Quotas().Get(c.Param("namespace"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) handleUpdateQuota(c echo.Context) error {
	q, err := s.orch.Quotas().Get(c.Param("namespace"))
	if err != nil {
		return fail(c, err)
	}

	var req quotaRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Policy != "" {
		q.Policy = req.Policy
	}
	q.Limits = req.Limits

	if err := s.orch.Quotas().Update(q); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) handleDeleteQuota(c echo.Context) error {
	if err := s.orch.Quotas().Delete(c.Param("namespace")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
