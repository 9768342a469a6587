package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/almsbooks/recon-backend/internal/infrastructure/storage"
)

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.repo.GetStats(c.Request.Context())
	if err != nil {
		s.fail(c, "fetch stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getLinks(c *gin.Context) {
	limit := intQuery(c, "limit", 50)

	links, err := s.repo.ListLinks(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "list links", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links, "count": len(links)})
}

func (s *Server) getRuns(c *gin.Context) {
	limit := intQuery(c, "limit", 20)

	runs, err := s.repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "list runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.repo.GetRun(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		s.fail(c, "get run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// getUnmatched lists the records still waiting for a counterpart in a date
// range, the backlog an operator reviews after a batch.
func (s *Server) getUnmatched(c *gin.Context) {
	dir := storage.Direction(c.DefaultQuery("direction", string(storage.DirectionReceiptsToBanking)))
	if !dir.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown direction"})
		return
	}

	end := time.Now()
	start := end.AddDate(0, 0, -90)
	var err error
	if v := c.Query("start"); v != "" {
		if start, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date"})
			return
		}
	}
	if v := c.Query("end"); v != "" {
		if end, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date"})
			return
		}
	}

	records, err := s.repo.FetchUnlinkedSources(c.Request.Context(), dir, start, end)
	if err != nil {
		s.fail(c, "fetch unmatched records", err)
		return
	}

	type unmatched struct {
		ID     int64  `json:"id"`
		Date   string `json:"date"`
		Amount string `json:"amount"`
		Label  string `json:"label"`
	}
	out := make([]unmatched, 0, len(records))
	for _, r := range records {
		out = append(out, unmatched{
			ID:     r.ID,
			Date:   r.Date.Format("2006-01-02"),
			Amount: r.Amount.StringFixed(2),
			Label:  r.Label,
		})
	}

	c.JSON(http.StatusOK, gin.H{"records": out, "count": len(out)})
}

func (s *Server) fail(c *gin.Context, what string, err error) {
	s.logger.Error("request failed", "what", what, "error", err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + what})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
