package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleListWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.ListWorkers())
}

func (s *Server) handleGetWorker(c echo.Context) error {
	w, err := s.orch.GetWorker(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

type shutdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleShutdownWorker(c echo.Context) error {
	var req shutdownRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.ShutdownWorker(c.Param("id"), req.Reason); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
