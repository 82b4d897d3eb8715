package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/models"
)

// ErrBookingNotFound is returned when the backend has no such booking
var ErrBookingNotFound = errors.New("booking not found")

// APIError is a failed backend call: a non-2xx status or success=false
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s failed (status %d): %s", e.Operation, e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrBookingNotFound on 404 responses
func (e *APIError) Is(target error) bool {
	return target == ErrBookingNotFound && e.StatusCode == http.StatusNotFound
}

// BackendMessage returns the backend-provided message of err, if any
func BackendMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// BookingBackend is the tour backend REST API used by the booking flow
type BookingBackend interface {
	CreateBooking(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error)
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingWithStatusRefresh(ctx context.Context, id string) (*models.Booking, error)
	GetPaymentStatus(ctx context.Context, id string) (*models.PaymentStatusData, error)
	CheckPaymentStatus(ctx context.Context, id string) (*models.CheckPaymentStatusResponse, error)
	ProcessPayment(ctx context.Context, req *models.ProcessPaymentRequest) (*models.ProcessPaymentResponse, error)
	GenerateVoucher(ctx context.Context, id string) (*models.Voucher, error)
	IsVoucherAvailable(ctx context.Context, id string) (bool, error)
	GetBookingVoucher(ctx context.Context, id string) (*models.Voucher, error)
	CancelBooking(ctx context.Context, id string) (*models.Booking, error)
	SimulatePaymentSuccess(ctx context.Context, id string) (*models.Booking, error)
}

// BackendClient talks to the tour backend over HTTP
type BackendClient struct {
	baseURL  string
	apiToken string
	logger   *logrus.Logger
	client   *http.Client
}

// NewBackendClient creates a new backend API client
func NewBackendClient(cfg config.BackendConfig, logger *logrus.Logger) *BackendClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BackendClient{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		logger:   logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope is the common response wrapper
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// do performs a JSON request and decodes the response body into out
func (c *BackendClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"path":      path,
		}).Warn("Backend request failed")
		return fmt.Errorf("failed to call backend %s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"operation":   op,
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
		"latency_ms":  time.Since(start).Milliseconds(),
	}).Debug("Backend response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		_ = json.Unmarshal(respBody, &env)
		message := env.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err == nil && env.Success != nil && !*env.Success {
		message := env.Message
		if message == "" {
			message = "request was not successful"
		}
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

func bookingPath(id string, suffix string) string {
	return "/api/bookings/" + url.PathEscape(id) + suffix
}

func paymentPath(id string, suffix string) string {
	return "/api/payments/" + url.PathEscape(id) + suffix
}

func requireBooking(op string, resp *models.BookingResponse) (*models.Booking, error) {
	if resp.Data == nil {
		return nil, &APIError{Operation: op, StatusCode: http.StatusOK, Message: "response has no booking"}
	}
	return resp.Data, nil
}

// CreateBooking creates a booking - POST /api/bookings
func (c *BackendClient) CreateBooking(ctx context.Context, req *models.CreateBookingRequest) (*models.Booking, error) {
	var resp models.BookingResponse
	if err := c.do(ctx, "createBooking", http.MethodPost, "/api/bookings", req, &resp); err != nil {
		return nil, err
	}
	return requireBooking("createBooking", &resp)
}

// GetBookingByID fetches a booking - GET /api/bookings/:id
func (c *BackendClient) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var resp models.BookingResponse
	if err := c.do(ctx, "getBookingById", http.MethodGet, bookingPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return requireBooking("getBookingById", &resp)
}

// GetBookingWithStatusRefresh fetches a booking after the backend re-queried the gateway
func (c *BackendClient) GetBookingWithStatusRefresh(ctx context.Context, id string) (*models.Booking, error) {
	var resp models.BookingResponse
	if err := c.do(ctx, "getBookingWithStatusRefresh", http.MethodGet, bookingPath(id, "?refreshStatus=true"), nil, &resp); err != nil {
		return nil, err
	}
	return requireBooking("getBookingWithStatusRefresh", &resp)
}

// GetPaymentStatus returns the current status fields - GET /api/payments/:id/status
func (c *BackendClient) GetPaymentStatus(ctx context.Context, id string) (*models.PaymentStatusData, error) {
	var resp models.PaymentStatusResponse
	if err := c.do(ctx, "getPaymentStatus", http.MethodGet, paymentPath(id, "/status"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, &APIError{Operation: "getPaymentStatus", StatusCode: http.StatusOK, Message: "response has no status data"}
	}
	return resp.Data, nil
}

// CheckPaymentStatus asks the backend to re-check the gateway and return the full booking
func (c *BackendClient) CheckPaymentStatus(ctx context.Context, id string) (*models.CheckPaymentStatusResponse, error) {
	var resp models.CheckPaymentStatusResponse
	if err := c.do(ctx, "checkPaymentStatus", http.MethodGet, paymentPath(id, "/check"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessPayment opens a gateway transaction - POST /api/payments/process
func (c *BackendClient) ProcessPayment(ctx context.Context, req *models.ProcessPaymentRequest) (*models.ProcessPaymentResponse, error) {
	var resp models.ProcessPaymentResponse
	if err := c.do(ctx, "processPayment", http.MethodPost, "/api/payments/process", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateVoucher issues the voucher - POST /api/bookings/:id/voucher
func (c *BackendClient) GenerateVoucher(ctx context.Context, id string) (*models.Voucher, error) {
	var resp models.VoucherResponse
	if err := c.do(ctx, "generateVoucher", http.MethodPost, bookingPath(id, "/voucher"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Voucher == nil {
		return nil, &APIError{Operation: "generateVoucher", StatusCode: http.StatusOK, Message: "response has no voucher"}
	}
	return resp.Voucher, nil
}

// IsVoucherAvailable reports whether a voucher can be downloaded
func (c *BackendClient) IsVoucherAvailable(ctx context.Context, id string) (bool, error) {
	var resp models.VoucherAvailabilityResponse
	if err := c.do(ctx, "isVoucherAvailable", http.MethodGet, bookingPath(id, "/voucher/available"), nil, &resp); err != nil {
		return false, err
	}
	return resp.Available, nil
}

// GetBookingVoucher returns the voucher download info - GET /api/bookings/:id/voucher
func (c *BackendClient) GetBookingVoucher(ctx context.Context, id string) (*models.Voucher, error) {
	var voucher models.Voucher
	if err := c.do(ctx, "getBookingVoucher", http.MethodGet, bookingPath(id, "/voucher"), nil, &voucher); err != nil {
		return nil, err
	}
	return &voucher, nil
}

// CancelBooking cancels a booking - PUT /api/bookings/:id/cancel
func (c *BackendClient) CancelBooking(ctx context.Context, id string) (*models.Booking, error) {
	var resp models.BookingResponse
	if err := c.do(ctx, "cancelBooking", http.MethodPut, bookingPath(id, "/cancel"), nil, &resp); err != nil {
		return nil, err
	}
	return requireBooking("cancelBooking", &resp)
}

// SimulatePaymentSuccess marks the booking paid on development backends
func (c *BackendClient) SimulatePaymentSuccess(ctx context.Context, id string) (*models.Booking, error) {
	var resp models.SimulatePaymentResponse
	if err := c.do(ctx, "simulatePaymentSuccess", http.MethodPost, paymentPath(id, "/simulate-success"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
