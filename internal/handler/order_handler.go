package handler

import (
	"errors"
	"net/http"
	"strconv"

	"satspos/internal/models"
	"satspos/internal/service"
	"satspos/pkg/lnaddr"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	sessions *service.SessionManager
}

func NewOrderHandler(sessions *service.SessionManager) *OrderHandler {
	return &OrderHandler{sessions: sessions}
}

type createOrderRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Currency    string  `json:"currency" binding:"required"`
	Destination string  `json:"destination"`
}

// Create handles POST /orders: converts the amount, spins up a session, and
// returns the initial snapshot. The invoice arrives through the order
// WebSocket once loading finishes.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": lnaddr.CodeInvalidBody})
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), req.Amount, req.Currency, req.Destination)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": lnaddr.CodeInvalidAmount})
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (h *OrderHandler) Get(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "code": lnaddr.CodeNotFound})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Retry handles POST /orders/:id/retry from the expired or error screen.
func (h *OrderHandler) Retry(c *gin.Context) {
	err := h.sessions.Retry(c.Param("id"))
	if errors.Is(err, service.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "code": lnaddr.CodeNotFound})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retrying"})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	err := h.sessions.Cancel(c.Param("id"))
	if errors.Is(err, service.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "code": lnaddr.CodeNotFound})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Sales handles GET /sales?limit=N for the till report.
func (h *OrderHandler) Sales(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := h.sessions.Sales(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sales"})
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"sales": orders})
}
