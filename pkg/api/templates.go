package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

func (s *Server) handleCreateTemplate(c echo.Context) error {
	var tpl types.JobTemplate
	if err := c.Bind(&tpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.CreateTemplate(&tpl); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

func (s *Server) handleListTemplates(c echo.Context) error {
	tpls, err := s.orch.ListTemplates()
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, tpls)
}

func (s *Server) handleGetTemplate(c echo.Context) error {
	tpl, err := s.orch.GetTemplate(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(c echo.Context) error {
	if err := s.orch.DeleteTemplate(c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// submitTemplateRequest parametrizes a template submission.
type submitTemplateRequest struct {
	Parameters map[string]string `json:"parameters,omitempty"`
	Namespace  string            `json:"namespace,omitempty"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

func (s *Server) handleSubmitFromTemplate(c echo.Context) error {
	var req submitTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	job, err := s.orch.SubmitFromTemplate(c.Param("name"), req.Parameters, req.Namespace, req.CreatedBy)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, job)
}
