package handlers

import (
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"memberhub-backend/models"
	"memberhub-backend/store"
	"memberhub-backend/workflow"
)

type UserHandler struct {
	store *store.Store
}

func NewUserHandler(store *store.Store) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) GetProfile(c *gin.Context) {
	wallet := c.Param("walletAddress")
	log.Printf("GetProfile called for wallet address: %s", wallet)

	profile, err := h.store.GetProfile(c, workflow.NormalizeWallet(wallet))
	if err != nil {
		log.Printf("Database error getting profile for %s: %v", wallet, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Profile not found"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *UserHandler) UpsertProfile(c *gin.Context) {
	var req models.UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	if !common.IsHexAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid wallet address"})
		return
	}

	profile, err := h.store.UpsertProfile(c,
		workflow.NormalizeWallet(req.WalletAddress),
		nullIfEmpty(req.Name),
		nullIfEmpty(req.Email),
	)
	if err != nil {
		log.Printf("Failed to upsert profile for %s: %v", req.WalletAddress, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save profile"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
