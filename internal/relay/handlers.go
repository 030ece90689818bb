package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nan0silver/AIBitcoinTrading/internal/api"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
	"github.com/nan0silver/AIBitcoinTrading/internal/poller"
	"github.com/nan0silver/AIBitcoinTrading/internal/session"
)

// StateMessage is the wire form of one committed entry.
type StateMessage struct {
	Type        string       `json:"type"`
	Domain      model.Domain `json:"domain"`
	Sequence    uint64       `json:"sequence"`
	Source      model.Source `json:"source"`
	Stale       bool         `json:"stale"`
	LastUpdated time.Time    `json:"last_updated"`
	Record      model.Record `json:"record"`
}

func newStateMessage(e model.StateEntry) StateMessage {
	return StateMessage{
		Type:        "state",
		Domain:      e.Domain,
		Sequence:    e.Sequence,
		Source:      e.Source,
		Stale:       e.Stale,
		LastUpdated: e.LastUpdated,
		Record:      e.Record,
	}
}

func (s *Server) getHealth(c *gin.Context) {
	h := s.state.Health()
	code := http.StatusOK
	if h.Status == session.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, h)
}

func (s *Server) getState(c *gin.Context) {
	entries := s.state.SnapshotAll()
	out := make([]StateMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, newStateMessage(e))
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (s *Server) getDomain(c *gin.Context) {
	domain, err := model.ParseDomain(c.Param("domain"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, ok := s.state.Snapshot(domain)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data yet", "domain": domain})
		return
	}
	c.JSON(http.StatusOK, newStateMessage(e))
}

func (s *Server) getConnections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streams": s.state.Streams(),
		"polls":   s.state.Polls(),
		"clients": s.Clients(),
	})
}

type chartIntervalRequest struct {
	Interval string `json:"interval" binding:"required"`
}

func (s *Server) postChartInterval(c *gin.Context) {
	var req chartIntervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.state.SetChartInterval(req.Interval); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"interval": req.Interval})
}

func (s *Server) postRefresh(c *gin.Context) {
	domain, err := model.ParseDomain(c.Param("domain"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch err := s.state.Refresh(domain); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"domain": domain})
	case errors.Is(err, poller.ErrNotScheduled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotStarted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) postAIAnalysis(c *gin.Context) {
	includeBalance := true
	if v := c.Query("include_balance"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "include_balance must be a boolean"})
			return
		}
		includeBalance = b
	}

	body, err := s.actions.AIAnalysis(c.Request.Context(), includeBalance)
	s.actionResult(c, "ai-analysis", body, err)
}

type manualTradeRequest struct {
	Decision   string `json:"decision" binding:"required,oneof=buy sell"`
	Percentage int    `json:"percentage" binding:"required,min=1,max=100"`
}

func (s *Server) postManualTrade(c *gin.Context) {
	var req manualTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body, err := s.actions.ManualTrade(c.Request.Context(), req.Decision, req.Percentage)
	s.actionResult(c, "manual-trade", body, err)
}

func (s *Server) postAITrade(c *gin.Context) {
	body, err := s.actions.AITrade(c.Request.Context())
	s.actionResult(c, "ai-trade", body, err)
}

// actionResult relays the backend's answer. Backend client errors keep
// their status; everything else is a bad gateway.
func (s *Server) actionResult(c *gin.Context, action string, body json.RawMessage, err error) {
	if err == nil {
		s.logger.Info("action completed", "action", action)
		c.Data(http.StatusOK, "application/json", body)
		return
	}

	s.logger.Warn("action failed", "action", action, "err", err)

	var apiErr *api.APIError
	switch {
	case errors.Is(err, api.ErrInvalidAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
