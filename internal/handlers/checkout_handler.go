package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/services"
)

// CheckoutHandler bridges the browser-side Snap popup and the server-side checkout callbacks
type CheckoutHandler struct {
	loader   *services.ScriptLoader
	checkout *services.SnapCheckout
	logger   *logrus.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(loader *services.ScriptLoader, checkout *services.SnapCheckout, logger *logrus.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		loader:   loader,
		checkout: checkout,
		logger:   logger,
	}
}

// CheckoutResultRequest is posted by the page when the popup finishes
type CheckoutResultRequest struct {
	Outcome services.CheckoutOutcome `json:"outcome" binding:"required"`
	Result  services.CheckoutResult  `json:"result"`
}

// RegisterRoutes mounts the checkout routes on rg
func (h *CheckoutHandler) RegisterRoutes(rg *gin.RouterGroup) {
	checkout := rg.Group("/checkout")
	{
		checkout.GET("/config", h.GetConfig)
		checkout.POST("/:token/result", h.ReportResult)
	}
}

// GetConfig returns what the page needs to inject the checkout script
// @Summary Checkout script configuration
// @Tags Checkout
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/checkout/config [get]
func (h *CheckoutHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scriptUrl": h.loader.ScriptURL(),
		"clientKey": h.loader.ClientKey(),
		"ready":     h.checkout.Ready(),
	})
}

// ReportResult delivers the popup outcome to the waiting payment
// @Summary Report checkout outcome
// @Tags Checkout
// @Accept json
// @Produce json
// @Param token path string true "Snap token"
// @Param request body CheckoutResultRequest true "Popup outcome"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{} "Unknown outcome"
// @Failure 404 {object} map[string]interface{} "No checkout waiting for this token"
// @Router /api/v1/checkout/{token}/result [post]
func (h *CheckoutHandler) ReportResult(c *gin.Context) {
	var req CheckoutResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if !req.Outcome.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome must be one of success, pending, error, close"})
		return
	}

	err := h.checkout.Dispatch(c.Request.Context(), c.Param("token"), req.Outcome, req.Result)
	if err != nil {
		if errors.Is(err, services.ErrUnknownCheckoutToken) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No checkout is waiting for this token"})
			return
		}
		h.logger.WithError(err).Error("Failed to dispatch checkout result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle checkout result"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Checkout result received"})
}
