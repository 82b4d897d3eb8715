package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
	"github.com/tourbooking/booking-flow/internal/services"
	"github.com/tourbooking/booking-flow/pkg/validator"
)

// BookingFlowHandler serves the booking pages: form submission, detail, payment and voucher actions
type BookingFlowHandler struct {
	appCtx     context.Context // parent of background pollers
	submitter  *services.BookingSubmitter
	reader     *services.BookingReader
	payments   *services.PaymentInitiator
	reconciler *services.StatusReconciler
	actions    *services.BookingActions
	feed       *services.NotificationFeed
	logger     *logrus.Logger
}

// NewBookingFlowHandler creates a new BookingFlowHandler
func NewBookingFlowHandler(
	appCtx context.Context,
	submitter *services.BookingSubmitter,
	reader *services.BookingReader,
	payments *services.PaymentInitiator,
	reconciler *services.StatusReconciler,
	actions *services.BookingActions,
	feed *services.NotificationFeed,
	logger *logrus.Logger,
) *BookingFlowHandler {
	return &BookingFlowHandler{
		appCtx:     appCtx,
		submitter:  submitter,
		reader:     reader,
		payments:   payments,
		reconciler: reconciler,
		actions:    actions,
		feed:       feed,
		logger:     logger,
	}
}

// RegisterRoutes mounts the booking flow routes on rg
func (h *BookingFlowHandler) RegisterRoutes(rg *gin.RouterGroup) {
	bookings := rg.Group("/bookings")
	{
		bookings.POST("", h.CreateBooking)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/:id/state", h.GetBookingState)
		bookings.POST("/:id/payment", h.InitiatePayment)
		bookings.POST("/:id/payment/check", h.CheckPayment)
		bookings.POST("/:id/watch", h.StartWatching)
		bookings.DELETE("/:id/watch", h.StopWatching)
		bookings.POST("/:id/cancel", h.CancelBooking)
		bookings.POST("/:id/voucher", h.GenerateVoucher)
		bookings.GET("/:id/voucher", h.GetVoucher)
		bookings.GET("/:id/voucher/available", h.VoucherAvailable)
		bookings.GET("/:id/share", h.ShareLink)
	}

	rg.GET("/shared/:token", h.GetSharedBooking)
	rg.GET("/notifications", h.ListNotifications)
}

// respondError maps service errors to HTTP responses
func (h *BookingFlowHandler) respondError(c *gin.Context, err error, fallback string) {
	if fields, ok := validator.IsFormErrors(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": fields})
		return
	}

	switch {
	case errors.Is(err, services.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
	case errors.Is(err, models.ErrIllegalTransition),
		errors.Is(err, services.ErrBookingNotPayable),
		errors.Is(err, services.ErrVoucherNotReady),
		errors.Is(err, services.ErrPaymentInProgress),
		errors.Is(err, services.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrCheckoutUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment system is not available. Please refresh the page and try again."})
	default:
		var submitErr *services.SubmitError
		if errors.As(err, &submitErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": submitErr.Message})
			return
		}
		if message := services.BackendMessage(err); message != "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": message})
			return
		}
		h.logger.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// session resolves the :id param to a live session, writing the error response on failure
func (h *BookingFlowHandler) session(c *gin.Context) (*services.BookingSession, bool) {
	session, err := h.reader.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to load booking")
		return nil, false
	}
	return session, true
}

// ============================================================================
// BOOKING FORM & DETAIL
// ============================================================================

// CreateBooking submits the booking form
// @Summary Create a tour booking
// @Description Validates the booking form and creates the booking on the backend
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.CreateBookingRequest true "Booking form"
// @Success 201 {object} services.SessionView "Booking created"
// @Failure 400 {object} map[string]interface{} "Invalid form"
// @Failure 502 {object} map[string]interface{} "Backend rejected the booking"
// @Router /api/v1/bookings [post]
func (h *BookingFlowHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	session, err := h.submitter.Submit(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "Failed to create booking. Please try again.")
		return
	}

	c.JSON(http.StatusCreated, session.View())
}

// GetBooking loads a booking, falling back to the last saved booking when the backend is down
// @Summary Get booking detail
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Param refreshStatus query bool false "Re-query the payment gateway first"
// @Success 200 {object} map[string]interface{} "Booking view"
// @Failure 404 {object} map[string]interface{} "Booking not found"
// @Router /api/v1/bookings/{id} [get]
func (h *BookingFlowHandler) GetBooking(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refreshStatus"))

	result, err := h.reader.Load(c.Request.Context(), c.Param("id"), refresh)
	if err != nil {
		h.respondError(c, err, "Failed to load booking")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"view":         result.Session.View(),
		"fromFallback": result.FromFallback,
	})
}

// GetBookingState returns the session state without contacting the backend
// @Summary Get booking page state
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} services.SessionView
// @Router /api/v1/bookings/{id}/state [get]
func (h *BookingFlowHandler) GetBookingState(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.View())
}

// ============================================================================
// PAYMENT
// ============================================================================

// InitiatePayment starts payment for a pending booking
// @Summary Start payment
// @Description Opens the checkout popup, returns a redirect URL, or simulates success in development
// @Tags Payments
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} services.PaymentResult
// @Failure 409 {object} map[string]interface{} "Booking not payable or payment in progress"
// @Failure 503 {object} map[string]interface{} "Checkout not available"
// @Router /api/v1/bookings/{id}/payment [post]
func (h *BookingFlowHandler) InitiatePayment(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), session)
	if err != nil {
		h.respondError(c, err, "Failed to process payment. Please try again.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment": result,
		"view":    session.View(),
	})
}

// CheckPayment re-checks the payment with the gateway
// @Summary Check payment again
// @Tags Payments
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{} "Check result and view"
// @Router /api/v1/bookings/{id}/payment/check [post]
func (h *BookingFlowHandler) CheckPayment(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	result := h.reconciler.RecheckPayment(c.Request.Context(), session)
	c.JSON(http.StatusOK, gin.H{
		"check": result,
		"view":  session.View(),
	})
}

// StartWatching starts background status polling for the booking
// @Summary Start status polling
// @Tags Payments
// @Param id path string true "Booking ID"
// @Success 202 {object} map[string]interface{}
// @Router /api/v1/bookings/{id}/watch [post]
func (h *BookingFlowHandler) StartWatching(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	h.reconciler.StartPolling(h.appCtx, session)
	c.JSON(http.StatusAccepted, gin.H{"pollState": session.View().PollState})
}

// StopWatching stops background status polling for the booking
// @Summary Stop status polling
// @Tags Payments
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/bookings/{id}/watch [delete]
func (h *BookingFlowHandler) StopWatching(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	h.reconciler.StopPolling(session)
	c.JSON(http.StatusOK, gin.H{"pollState": session.View().PollState})
}

// ============================================================================
// MANUAL ACTIONS
// ============================================================================

// CancelBooking cancels a pending booking
// @Summary Cancel booking
// @Tags Bookings
// @Param id path string true "Booking ID"
// @Success 200 {object} services.SessionView
// @Failure 409 {object} map[string]interface{} "Booking can no longer be cancelled"
// @Router /api/v1/bookings/{id}/cancel [post]
func (h *BookingFlowHandler) CancelBooking(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	if _, err := h.actions.Cancel(c.Request.Context(), session); err != nil {
		h.respondError(c, err, "Failed to cancel booking. Please try again.")
		return
	}

	c.JSON(http.StatusOK, session.View())
}

// GenerateVoucher issues the voucher of a confirmed booking
// @Summary Generate voucher
// @Tags Vouchers
// @Param id path string true "Booking ID"
// @Success 201 {object} models.Voucher
// @Failure 409 {object} map[string]interface{} "Booking not confirmed"
// @Router /api/v1/bookings/{id}/voucher [post]
func (h *BookingFlowHandler) GenerateVoucher(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	voucher, err := h.actions.GenerateVoucher(c.Request.Context(), session)
	if err != nil {
		h.respondError(c, err, "Failed to generate voucher. Please try again.")
		return
	}

	c.JSON(http.StatusCreated, voucher)
}

// GetVoucher returns the voucher download info
// @Summary Get voucher
// @Tags Vouchers
// @Param id path string true "Booking ID"
// @Success 200 {object} models.Voucher
// @Router /api/v1/bookings/{id}/voucher [get]
func (h *BookingFlowHandler) GetVoucher(c *gin.Context) {
	voucher, err := h.actions.Voucher(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to get voucher")
		return
	}
	c.JSON(http.StatusOK, voucher)
}

// VoucherAvailable reports whether the voucher can be downloaded
// @Summary Voucher availability
// @Tags Vouchers
// @Param id path string true "Booking ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/bookings/{id}/voucher/available [get]
func (h *BookingFlowHandler) VoucherAvailable(c *gin.Context) {
	available, err := h.actions.VoucherAvailable(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to check voucher availability")
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}

// ShareLink issues a read-only link to the booking
// @Summary Share booking
// @Tags Bookings
// @Param id path string true "Booking ID"
// @Success 200 {object} services.ShareLink
// @Router /api/v1/bookings/{id}/share [get]
func (h *BookingFlowHandler) ShareLink(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	link, err := h.actions.ShareLink(session)
	if err != nil {
		h.respondError(c, err, "Failed to create share link")
		return
	}
	c.JSON(http.StatusOK, link)
}

// GetSharedBooking shows a booking through a share link
// @Summary Shared booking
// @Tags Bookings
// @Param token path string true "Share token"
// @Success 200 {object} services.SessionView
// @Failure 401 {object} map[string]interface{} "Invalid or expired link"
// @Router /api/v1/shared/{token} [get]
func (h *BookingFlowHandler) GetSharedBooking(c *gin.Context) {
	view, err := h.actions.Shared(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidShareToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "This share link is invalid or has expired"})
			return
		}
		h.respondError(c, err, "Failed to load shared booking")
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListNotifications returns notifications for a booking newer than after
// @Summary List notifications
// @Tags Notifications
// @Param booking_id query string false "Booking ID (empty for form notifications)"
// @Param after query int false "Return notifications with a higher sequence"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/notifications [get]
func (h *BookingFlowHandler) ListNotifications(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": h.feed.List(c.Query("booking_id"), after),
	})
}
