package handler

import (
	"log"
	"net/http"

	"satspos/config"
	"satspos/internal/auth"
	"satspos/internal/repository"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	cfg          *config.Config
	merchantRepo *repository.MerchantRepository
}

func NewAuthHandler(cfg *config.Config, merchantRepo *repository.MerchantRepository) *AuthHandler {
	return &AuthHandler{cfg: cfg, merchantRepo: merchantRepo}
}

type loginRequest struct {
	// Name defaults to the configured operator account.
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login for the till operator.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = h.cfg.Merchant.Name
	}
	merchant, err := h.merchantRepo.GetByName(req.Name)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(merchant.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := auth.GenerateToken(&h.cfg.JWT, merchant.ID, merchant.Name)
	if err != nil {
		log.Printf("[AUTH] token generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"merchant": gin.H{
			"id":      merchant.ID,
			"name":    merchant.Name,
			"address": merchant.Address,
		},
	})
}
