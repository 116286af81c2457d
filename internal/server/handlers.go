package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dnyoussef/hooklog/internal/archive"
	"github.com/dnyoussef/hooklog/internal/logger"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/gin-gonic/gin"
)

func errorJSON(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

// archiveStatus maps archive errors to HTTP status codes.
func archiveStatus(err error) int {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, archive.ErrInvalidName), errors.Is(err, archive.ErrUnsupportedFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func bindFilter(c *gin.Context) (model.Filter, bool) {
	var f model.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return f, false
	}
	return f, true
}

// intQuery parses an integer query parameter and checks it lies in [min, max].
func intQuery(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)})
		return 0, false
	}
	return v, true
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":       "ok",
		"memory_count": s.log.GetStats().Total,
	}
	if s.aggregator != nil {
		stats := s.aggregator.Snapshot()
		resp["uptime"] = stats.Uptime
		resp["eps"] = stats.EPS
		resp["dropped_logs"] = stats.DroppedLogs
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQueryMemory(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	entries, err := s.log.QueryLogs(f)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, logger.ErrMemoryDisabled) {
			status = http.StatusServiceUnavailable
		}
		errorJSON(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}

func (s *Server) handleMemoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.log.GetStats())
}

func (s *Server) handleLive(c *gin.Context) {
	if s.aggregator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stream disabled"})
		return
	}
	c.JSON(http.StatusOK, s.aggregator.Snapshot())
}

func (s *Server) handleClearMemory(c *gin.Context) {
	s.log.ClearMemory()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleFiles(c *gin.Context) {
	files, err := s.archive.Files()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(files), "files": files})
}

func (s *Server) handleArchiveStats(c *gin.Context) {
	stats, err := s.archive.Stats()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleQueryFile(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0, 0, 1<<30)
	if !ok {
		return
	}
	name := c.DefaultQuery("filename", s.archive.CurrentFile())

	entries, err := s.archive.Read(name, f, offset)
	if err != nil {
		errorJSON(c, archiveStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filename": name,
		"offset":   offset,
		"count":    len(entries),
		"entries":  entries,
	})
}

func (s *Server) handleExport(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	name := c.DefaultQuery("filename", s.archive.CurrentFile())
	format := c.DefaultQuery("format", archive.FormatJSON)

	data, err := s.archive.Export(name, format, f)
	if err != nil {
		errorJSON(c, archiveStatus(err), err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+archive.ExportName(name, format)+`"`)
	c.Data(http.StatusOK, archive.ContentType(format), data)
}

func (s *Server) handleRotate(c *gin.Context) {
	stats, err := s.log.Rotate(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, logger.ErrFileSinkDisabled) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "stats": stats})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rotated", "stats": stats})
}

func (s *Server) handleTrace(c *gin.Context) {
	id := c.Param("id")
	entries, searched, err := s.archive.Trace(id)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"correlation_id": id,
		"files_searched": searched,
		"count":          len(entries),
		"entries":        entries,
	})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 50, 1, 500)
	if !ok {
		return
	}
	hours, ok := intQuery(c, "hours", 24, 1, 168)
	if !ok {
		return
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	entries, err := s.archive.RecentErrors(since, limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours, "count": len(entries), "entries": entries})
}

func (s *Server) handleCritical(c *gin.Context) {
	st := s.log.Store()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "critical store not configured"})
		return
	}
	limit, ok := intQuery(c, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	entries, err := st.Recent(limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
}
