package rest

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/connection"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/device/status
func (s *Server) getDeviceStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.DeviceManager().Status())
}

// POST /api/v1/device/connect
func (s *Server) connectDevice(c *gin.Context) {
	dm := s.lm.DeviceManager()
	if err := dm.Connect(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, types.NewErrorResponse(types.CodeDeviceFailure, "Connect failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, dm.Status())
}

// POST /api/v1/device/disconnect
func (s *Server) disconnectDevice(c *gin.Context) {
	dm := s.lm.DeviceManager()
	if err := dm.Disconnect(); err != nil {
		s.respondError(c, "Disconnect failed", err)
		return
	}
	c.JSON(http.StatusOK, dm.Status())
}

// GET /api/v1/device/memory?address=104&size=8 or ?ref=MW4
func (s *Server) readMemory(c *gin.Context) {
	var address, size int
	if ref := c.Query("ref"); ref != "" {
		addr, ok := s.lm.Workspace().Resolver().ParseRawAddress(ref)
		if !ok {
			badRequest(c, "Invalid address", fmt.Errorf("cannot parse %q", ref))
			return
		}
		address, size = addr.Absolute, addr.Size
	} else {
		var err error
		if address, err = strconv.Atoi(c.Query("address")); err != nil {
			badRequest(c, "Invalid address", err)
			return
		}
		size = 1
	}
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "Invalid size", fmt.Errorf("%w: size %q", connection.ErrOutOfRange, raw))
			return
		}
		size = n
	}

	data, err := s.lm.DeviceManager().ReadMemory(c.Request.Context(), address, size)
	if err != nil {
		s.respondError(c, "Read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"size":    len(data),
		"data":    hex.EncodeToString(data),
	})
}

// GET /api/v1/monitor/status
func (s *Server) getMonitorStatus(c *gin.Context) {
	st := s.lm.DeviceManager().Status()
	c.JSON(http.StatusOK, gin.H{
		"monitoring": st.Monitoring,
		"polling":    st.Polling,
		"stats":      st.Poller,
	})
}

// POST /api/v1/monitor/start
func (s *Server) startMonitor(c *gin.Context) {
	s.lm.DeviceManager().SetMonitoring(true)
	s.getMonitorStatus(c)
}

// POST /api/v1/monitor/stop
func (s *Server) stopMonitor(c *gin.Context) {
	s.lm.DeviceManager().SetMonitoring(false)
	s.getMonitorStatus(c)
}

// POST /api/v1/monitor/poll runs one poll cycle now.
func (s *Server) pollOnce(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"polled": s.lm.DeviceManager().Poll()})
}
