// Package http provides HTTP handlers for the elevated-access verification API.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/sallyport/gateway/internal/errors"
	"github.com/sallyport/gateway/internal/gateway"
	"github.com/sallyport/gateway/internal/httputil"
	customValidation "github.com/sallyport/gateway/internal/validation"
	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
	"github.com/sallyport/gateway/internal/verification/http/dto"
	verificationUseCase "github.com/sallyport/gateway/internal/verification/usecase"
)

// VerificationHandler handles HTTP requests for the verification workflow.
type VerificationHandler struct {
	verificationUseCase verificationUseCase.VerificationUseCase
	logger              *slog.Logger
}

// NewVerificationHandler creates a new verification handler with required dependencies.
func NewVerificationHandler(
	useCase verificationUseCase.VerificationUseCase,
	logger *slog.Logger,
) *VerificationHandler {
	return &VerificationHandler{
		verificationUseCase: useCase,
		logger:              logger,
	}
}

// CreateHandler opens a new verification request for the calling principal.
// POST /v1/verifications
// Returns 201 Created with the pending request.
func (h *VerificationHandler) CreateHandler(c *gin.Context) {
	principal, ok := gateway.GetPrincipal(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, h.logger)
		return
	}

	var req dto.CreateVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	request, err := h.verificationUseCase.Request(c.Request.Context(), &verificationDomain.RequestInput{
		PrincipalID:  principal.ID,
		Purpose:      req.Purpose,
		AccessLevel:  req.AccessLevel,
		DeviceInfo:   req.DeviceInfo,
		LocationInfo: req.LocationInfo,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapRequestToResponse(request))
}

// ApproveHandler approves a pending verification request.
// POST /v1/verifications/:id/approve
// The caller becomes the approver; self-approval is rejected.
func (h *VerificationHandler) ApproveHandler(c *gin.Context) {
	h.decideHandler(c, h.verificationUseCase.Approve)
}

// RejectHandler rejects a pending verification request.
// POST /v1/verifications/:id/reject
func (h *VerificationHandler) RejectHandler(c *gin.Context) {
	h.decideHandler(c, h.verificationUseCase.Reject)
}

// GetHandler retrieves a verification request with its effective status.
// GET /v1/verifications/:id
func (h *VerificationHandler) GetHandler(c *gin.Context) {
	if _, ok := gateway.GetPrincipal(c.Request.Context()); !ok {
		httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, h.logger)
		return
	}

	id, err := parseRequestID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	request, err := h.verificationUseCase.Status(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRequestToResponse(request))
}

// ListHandler lists verification requests, newest first.
// GET /v1/verifications?principal_id=&offset=&limit=
// Defaults to the calling principal when principal_id is absent.
func (h *VerificationHandler) ListHandler(c *gin.Context) {
	principal, ok := gateway.GetPrincipal(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, h.logger)
		return
	}

	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	principalID := principal.ID
	if raw := c.Query("principal_id"); raw != "" {
		principalID, err = uuid.Parse(raw)
		if err != nil {
			httputil.HandleValidationErrorGin(
				c,
				fmt.Errorf("invalid principal_id parameter: must be a UUID"),
				h.logger,
			)
			return
		}
	}

	requests, err := h.verificationUseCase.List(c.Request.Context(), principalID, offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRequestsToListResponse(requests))
}

// decideHandler applies an approve or reject decision on behalf of the caller.
func (h *VerificationHandler) decideHandler(
	c *gin.Context,
	decide func(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error),
) {
	principal, ok := gateway.GetPrincipal(c.Request.Context())
	if !ok {
		httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, h.logger)
		return
	}

	id, err := parseRequestID(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	request, err := decide(c.Request.Context(), id, principal.ID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRequestToResponse(request))
}

// parseRequestID parses the :id path parameter.
func parseRequestID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id parameter: must be a UUID")
	}
	return id, nil
}
