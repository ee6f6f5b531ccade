package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RenameSymbolRequest struct {
	NewName string `json:"new_name" binding:"required"`
}

// GET /api/v1/project
func (s *Server) getProject(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Workspace().Project())
}

// PUT /api/v1/project
func (s *Server) replaceProject(c *gin.Context) {
	var p types.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.ReplaceProject(&p); err != nil {
		badRequest(c, "Invalid project", err)
		return
	}
	c.JSON(http.StatusOK, s.lm.Workspace().Project())
}

// PUT /api/v1/project/offsets
func (s *Server) setOffsets(c *gin.Context) {
	var offsets types.MemoryAreaOffsets
	if err := c.ShouldBindJSON(&offsets); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Workspace().SetOffsets(offsets); err != nil {
		badRequest(c, "Invalid offsets", err)
		return
	}
	c.JSON(http.StatusOK, s.lm.Workspace().Project().Offsets)
}

// POST /api/v1/project/save
func (s *Server) saveProject(c *gin.Context) {
	if err := s.lm.SaveProject(c.Request.Context()); err != nil {
		s.respondError(c, "Failed to save project", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "project saved"})
}

// POST /api/v1/project/reload
func (s *Server) reloadProject(c *gin.Context) {
	if err := s.lm.ReloadProject(c.Request.Context()); err != nil {
		s.respondError(c, "Failed to reload project", err)
		return
	}
	c.JSON(http.StatusOK, s.lm.Workspace().Project())
}

// POST /api/v1/project/symbols/:name/rename
// Failures are reported in the body, not by status: the editor shows the
// message either way.
func (s *Server) renameSymbol(c *gin.Context) {
	var req RenameSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result := s.lm.Workspace().RenameSymbol(c.Param("name"), req.NewName)
	if result.Success {
		s.logger.Info("Symbol renamed",
			zap.String("from", c.Param("name")),
			zap.String("to", req.NewName))
	}
	c.JSON(http.StatusOK, result)
}
