package rest

import (
	"fmt"
	"net/http"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"github.com/gin-gonic/gin"
)

type AddWatchRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type"`
}

type UpdateWatchRequest struct {
	Name *string `json:"name,omitempty"`
	Type *string `json:"type,omitempty"`
}

type ReplaceWatchRequest struct {
	Entries []types.WatchSpec `json:"entries"`
}

type WriteRequest struct {
	Value string `json:"value"`
}

// syncWatch copies the table layout into the project so it is saved with it.
func (s *Server) syncWatch() {
	s.lm.Workspace().SetWatch(s.lm.WatchTable().Specs())
}

func parseType(raw string) (types.TypeTag, error) {
	tag, err := types.ParseTypeTag(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", watch.ErrInvalidType, err)
	}
	return tag, nil
}

// GET /api/v1/watch
func (s *Server) listWatch(c *gin.Context) {
	entries := s.lm.WatchTable().Entries()
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// GET /api/v1/watch/:name
func (s *Server) getWatch(c *gin.Context) {
	name := c.Param("name")
	entry, ok := s.lm.WatchTable().Get(name)
	if !ok {
		s.respondError(c, "Watch entry not found", fmt.Errorf("%q: %w", name, watch.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, entry)
}

// POST /api/v1/watch
// A name that is already watched is not added twice; the response says so.
func (s *Server) addWatch(c *gin.Context) {
	var req AddWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	tag, err := parseType(req.Type)
	if err != nil {
		s.respondError(c, "Invalid type", err)
		return
	}

	table := s.lm.WatchTable()
	added, err := table.Add(req.Name, tag)
	if err != nil {
		s.respondError(c, "Failed to add watch entry", err)
		return
	}
	s.syncWatch()

	entry, _ := table.Get(req.Name)
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"added": added, "entry": entry})
}

// PUT /api/v1/watch
func (s *Server) replaceWatch(c *gin.Context) {
	var req ReplaceWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.WatchTable().SetEntries(req.Entries); err != nil {
		s.respondError(c, "Failed to replace watch list", err)
		return
	}
	s.syncWatch()
	s.listWatch(c)
}

// DELETE /api/v1/watch
func (s *Server) clearWatch(c *gin.Context) {
	s.lm.WatchTable().Clear()
	s.syncWatch()
	c.JSON(http.StatusOK, gin.H{"message": "watch list cleared"})
}

// PATCH /api/v1/watch/:name
func (s *Server) updateWatch(c *gin.Context) {
	var req UpdateWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	table := s.lm.WatchTable()
	name := c.Param("name")

	if req.Type != nil {
		tag, err := parseType(*req.Type)
		if err != nil {
			s.respondError(c, "Invalid type", err)
			return
		}
		if err := table.ChangeType(name, tag); err != nil {
			s.respondError(c, "Failed to change type", err)
			return
		}
	}
	if req.Name != nil && *req.Name != name {
		if err := table.Rename(name, *req.Name); err != nil {
			s.respondError(c, "Failed to rename watch entry", err)
			return
		}
		name = *req.Name
	}
	s.syncWatch()

	entry, _ := table.Get(name)
	c.JSON(http.StatusOK, entry)
}

// DELETE /api/v1/watch/:name
func (s *Server) removeWatch(c *gin.Context) {
	name := c.Param("name")
	if !s.lm.WatchTable().Remove(name) {
		s.respondError(c, "Watch entry not found", fmt.Errorf("%q: %w", name, watch.ErrNotFound))
		return
	}
	s.syncWatch()
	c.JSON(http.StatusOK, gin.H{"message": "watch entry removed"})
}

// POST /api/v1/watch/:name/write
func (s *Server) writeWatch(c *gin.Context) {
	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	name := c.Param("name")
	if err := s.lm.DeviceManager().Write(c.Request.Context(), name, req.Value); err != nil {
		s.respondError(c, "Write failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "value written"})
}
