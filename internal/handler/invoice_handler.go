package handler

import (
	"net/http"

	"satspos/pkg/lnaddr"

	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	client *lnaddr.Client
}

func NewInvoiceHandler(client *lnaddr.Client) *InvoiceHandler {
	return &InvoiceHandler{client: client}
}

type invoiceRequest struct {
	Callback string `json:"callback"`
	// Amount is in millisatoshis.
	Amount int64 `json:"amount"`
	// Nostr is an encoded zap request to attach; optional.
	Nostr string `json:"nostr"`
	Lnurl string `json:"lnurl"`
}

// Create handles POST /invoice: calls the LNURL callback with the requested
// amount and hands back the bolt11.
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "code": lnaddr.CodeInvalidBody})
		return
	}
	inv, err := h.client.FetchInvoice(c.Request.Context(), req.Callback, req.Amount, req.Nostr, req.Lnurl)
	if err != nil {
		writeResolveError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
