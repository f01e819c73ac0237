package handler

import (
	"net/http"
	"strings"

	"satspos/internal/service"

	"github.com/gin-gonic/gin"
)

type RatesHandler struct {
	rates *service.RatesService
}

func NewRatesHandler(rates *service.RatesService) *RatesHandler {
	return &RatesHandler{rates: rates}
}

// Get handles GET /rates?currencies=USD,EUR. Without the filter every known
// currency is returned. A stale flag tells the till the upstream fetch
// failed and cached numbers are being served.
func (h *RatesHandler) Get(c *gin.Context) {
	var currencies []string
	if q := c.Query("currencies"); q != "" {
		for _, cur := range strings.Split(q, ",") {
			if cur = strings.TrimSpace(cur); cur != "" {
				currencies = append(currencies, strings.ToUpper(cur))
			}
		}
	}
	rates, ts, stale, err := h.rates.Get(c.Request.Context(), currencies)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange rates unavailable", "code": "UPSTREAM_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rates, "timestamp": ts, "stale": stale})
}
