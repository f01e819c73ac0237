package handler

import (
	"net/http"

	"satspos/internal/service"
	"satspos/pkg/lnaddr"

	"github.com/gin-gonic/gin"
)

type ResolveHandler struct {
	resolver *service.ResolverService
}

func NewResolveHandler(resolver *service.ResolverService) *ResolveHandler {
	return &ResolveHandler{resolver: resolver}
}

// LNURL handles GET /lnurlp/resolve?address=name@domain.
func (h *ResolveHandler) LNURL(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter required", "code": lnaddr.CodeMissingParam})
		return
	}
	params, err := h.resolver.ResolveLNURL(c.Request.Context(), address)
	if err != nil {
		writeResolveError(c, err)
		return
	}
	c.JSON(http.StatusOK, params)
}

// NIP05 handles GET /nip05/resolve?address=name@domain.
func (h *ResolveHandler) NIP05(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter required", "code": lnaddr.CodeMissingParam})
		return
	}
	identity, err := h.resolver.ResolveNIP05(c.Request.Context(), address)
	if err != nil {
		writeResolveError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

// writeResolveError maps upstream lookup failures onto the wire contract:
// structured {error, code} with a status that distinguishes caller mistakes
// from upstream trouble.
func writeResolveError(c *gin.Context, err error) {
	if le, ok := lnaddr.AsError(err); ok {
		c.JSON(le.Status, gin.H{"error": le.Message, "code": le.Code})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": lnaddr.CodeUpstreamError})
}
