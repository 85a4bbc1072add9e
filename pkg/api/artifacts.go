package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleUploadArtifact stores the request body in the content-addressed
// cache and returns the artifact ID.
func (s *Server) handleUploadArtifact(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(data) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty artifact")
	}

	id, err := s.orch.PutArtifact(data)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": id, "size": len(data)})
}

func (s *Server) handleDownloadArtifact(c echo.Context) error {
	data, err := s.orch.GetArtifact(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}
