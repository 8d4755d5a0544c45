package livehttp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tradeloop/internal/event"
	"tradeloop/internal/instrument"
	"tradeloop/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Router exposes the /api routes.
type Router struct {
	commands event.Publisher
	status   StatusProvider
	sessions SessionLister
}

func NewRouter(commands event.Publisher, status StatusProvider, sessions SessionLister) *Router {
	return &Router{commands: commands, status: status, sessions: sessions}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/sessions", r.handleSessions)
	cmd := group.Group("/commands")
	cmd.POST("/orders", r.handleManualOrder)
	cmd.POST("/orders/:id/cancel", r.handleCancelOrder)
	cmd.POST("/positions/close", r.handleClosePosition)
	cmd.POST("/shutdown", r.handleShutdown)
}

func (r *Router) handleStatus(c *gin.Context) {
	if r.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, r.status.Status())
}

func (r *Router) handleSessions(c *gin.Context) {
	if r.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	reports, err := r.sessions.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": reports})
}

func (r *Router) handleManualOrder(c *gin.Context) {
	var req manualOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ex, inst, err := parseKey(req.Exchange, req.Instrument)
	if err != nil {
		badRequest(c, err)
		return
	}
	side, err := instrument.ParseSide(req.Side)
	if err != nil {
		badRequest(c, err)
		return
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil || !qty.IsPositive() {
		badRequest(c, fmt.Errorf("quantity must be a positive decimal"))
		return
	}
	price := decimal.Zero
	if p := strings.TrimSpace(req.Price); p != "" {
		price, err = decimal.NewFromString(p)
		if err != nil || price.IsNegative() {
			badRequest(c, fmt.Errorf("price must be a non-negative decimal"))
			return
		}
	}
	cmd := event.ManualOrder{
		ID:         commandID(req.ID),
		Exchange:   ex,
		Instrument: inst,
		Side:       side,
		Quantity:   qty,
		Price:      price,
	}
	r.publish(c, cmd, cmd.ID)
}

func (r *Router) handleClosePosition(c *gin.Context) {
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ex, inst, err := parseKey(req.Exchange, req.Instrument)
	if err != nil {
		badRequest(c, err)
		return
	}
	cmd := event.ClosePosition{ID: commandID(req.ID), Exchange: ex, Instrument: inst}
	r.publish(c, cmd, cmd.ID)
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("id"))
	if orderID == "" {
		badRequest(c, fmt.Errorf("order id is required"))
		return
	}
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ex := instrument.Exchange(strings.ToLower(strings.TrimSpace(req.Exchange)))
	cmd := event.CancelOrder{ID: commandID(""), Exchange: ex, OrderID: orderID}
	r.publish(c, cmd, cmd.ID)
}

func (r *Router) handleShutdown(c *gin.Context) {
	var req shutdownRequest
	// an empty body is a shutdown without reason
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	cmd := event.Shutdown{ID: commandID(""), Reason: strings.TrimSpace(req.Reason)}
	r.publish(c, cmd, cmd.ID)
}

func (r *Router) publish(c *gin.Context, cmd event.Command, id string) {
	if err := r.commands.Publish(c.Request.Context(), cmd); err != nil {
		if errors.Is(err, event.ErrFeedClosed) {
			c.JSON(http.StatusConflict, gin.H{"error": "session has ended"})
			return
		}
		logger.Warnf("publish %s command failed: %v", cmd.CommandKind(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("operator command %s accepted id=%s", cmd.CommandKind(), id)
	c.JSON(http.StatusAccepted, acceptedResponse{ID: id, Command: cmd.CommandKind().String()})
}

func parseKey(exchange, raw string) (instrument.Exchange, instrument.Instrument, error) {
	ex := instrument.Exchange(strings.ToLower(strings.TrimSpace(exchange)))
	if ex == "" {
		return "", instrument.Instrument{}, fmt.Errorf("exchange is required")
	}
	inst, err := instrument.Parse(raw)
	if err != nil {
		return "", instrument.Instrument{}, err
	}
	return ex, inst, nil
}

func commandID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
