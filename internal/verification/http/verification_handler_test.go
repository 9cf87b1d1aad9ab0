package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sallyport/gateway/internal/gateway"
	"github.com/sallyport/gateway/internal/policy"
	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
	"github.com/sallyport/gateway/internal/verification/http/dto"
)

// mockVerificationUseCase is a mock implementation of VerificationUseCase for testing.
type mockVerificationUseCase struct {
	mock.Mock
}

func (m *mockVerificationUseCase) Request(ctx context.Context, input *verificationDomain.RequestInput) (*verificationDomain.Request, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockVerificationUseCase) Approve(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error) {
	args := m.Called(ctx, id, approverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockVerificationUseCase) Reject(ctx context.Context, id, approverID uuid.UUID) (*verificationDomain.Request, error) {
	args := m.Called(ctx, id, approverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockVerificationUseCase) Status(ctx context.Context, id uuid.UUID) (*verificationDomain.Request, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*verificationDomain.Request), args.Error(1)
}

func (m *mockVerificationUseCase) List(ctx context.Context, principalID uuid.UUID, offset, limit int) ([]*verificationDomain.Request, error) {
	args := m.Called(ctx, principalID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*verificationDomain.Request), args.Error(1)
}

func (m *mockVerificationUseCase) HasApproved(ctx context.Context, principalID uuid.UUID, accessLevel string) (bool, error) {
	args := m.Called(ctx, principalID, accessLevel)
	return args.Bool(0), args.Error(1)
}

func (m *mockVerificationUseCase) Sweep(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockVerificationUseCase) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// setupTestVerificationHandler creates a test handler with mocked dependencies.
func setupTestVerificationHandler(t *testing.T) (*VerificationHandler, *mockVerificationUseCase) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	mockUseCase := &mockVerificationUseCase{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewVerificationHandler(mockUseCase, logger), mockUseCase
}

// createTestContext creates a test Gin context authenticated as the given principal.
func createTestContext(
	method, path string,
	body interface{},
	principal *principalDomain.Principal,
) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req = req.WithContext(gateway.WithPrincipal(req.Context(), principal))
	}
	c.Request = req

	return c, w
}

func testPrincipal() *principalDomain.Principal {
	return &principalDomain.Principal{
		ID:       uuid.Must(uuid.NewV7()),
		Tier:     policy.TierRuby,
		IsActive: true,
	}
}

func TestVerificationHandler_CreateHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		principal := testPrincipal()
		now := time.Now().UTC()

		request := dto.CreateVerificationRequest{
			Purpose:     "deploy hotfix",
			AccessLevel: "production_deploy",
			DeviceInfo:  "macbook-pro",
		}
		created := &verificationDomain.Request{
			ID:          uuid.Must(uuid.NewV7()),
			PrincipalID: principal.ID,
			Purpose:     "deploy hotfix",
			AccessLevel: "production_deploy",
			Status:      verificationDomain.StatusPending,
			RequestedAt: now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}

		mockUseCase.On("Request", mock.Anything, &verificationDomain.RequestInput{
			PrincipalID: principal.ID,
			Purpose:     "deploy hotfix",
			AccessLevel: "production_deploy",
			DeviceInfo:  "macbook-pro",
		}).Return(created, nil).Once()

		c, w := createTestContext(http.MethodPost, "/v1/verifications", request, principal)
		handler.CreateHandler(c)

		assert.Equal(t, http.StatusCreated, w.Code)

		var response dto.VerificationResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, created.ID.String(), response.ID)
		assert.Equal(t, "pending", response.Status)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_MissingPurpose", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)

		request := dto.CreateVerificationRequest{AccessLevel: "production_deploy"}

		c, w := createTestContext(http.MethodPost, "/v1/verifications", request, testPrincipal())
		handler.CreateHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_NoAuthenticatedPrincipal", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)

		request := dto.CreateVerificationRequest{
			Purpose:     "deploy hotfix",
			AccessLevel: "production_deploy",
		}

		c, w := createTestContext(http.MethodPost, "/v1/verifications", request, nil)
		handler.CreateHandler(c)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockUseCase.AssertExpectations(t)
	})
}

func TestVerificationHandler_ApproveHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		approver := testPrincipal()
		requestID := uuid.Must(uuid.NewV7())
		completedAt := time.Now().UTC()

		approved := &verificationDomain.Request{
			ID:          requestID,
			PrincipalID: uuid.Must(uuid.NewV7()),
			Purpose:     "deploy hotfix",
			AccessLevel: "production_deploy",
			Status:      verificationDomain.StatusApproved,
			ApproverID:  &approver.ID,
			CompletedAt: &completedAt,
		}

		mockUseCase.On("Approve", mock.Anything, requestID, approver.ID).
			Return(approved, nil).
			Once()

		c, w := createTestContext(http.MethodPost, "/v1/verifications/"+requestID.String()+"/approve", nil, approver)
		c.Params = gin.Params{{Key: "id", Value: requestID.String()}}
		handler.ApproveHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.VerificationResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "approved", response.Status)
		assert.NotNil(t, response.ApproverID)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_SelfApproval", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		principal := testPrincipal()
		requestID := uuid.Must(uuid.NewV7())

		mockUseCase.On("Approve", mock.Anything, requestID, principal.ID).
			Return(nil, verificationDomain.ErrSelfApproval).
			Once()

		c, w := createTestContext(http.MethodPost, "/v1/verifications/"+requestID.String()+"/approve", nil, principal)
		c.Params = gin.Params{{Key: "id", Value: requestID.String()}}
		handler.ApproveHandler(c)

		assert.Equal(t, http.StatusForbidden, w.Code)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_InvalidID", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)

		c, w := createTestContext(http.MethodPost, "/v1/verifications/not-a-uuid/approve", nil, testPrincipal())
		c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
		handler.ApproveHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		mockUseCase.AssertExpectations(t)
	})
}

func TestVerificationHandler_RejectHandler(t *testing.T) {
	handler, mockUseCase := setupTestVerificationHandler(t)
	approver := testPrincipal()
	requestID := uuid.Must(uuid.NewV7())

	rejected := &verificationDomain.Request{
		ID:          requestID,
		PrincipalID: uuid.Must(uuid.NewV7()),
		Status:      verificationDomain.StatusRejected,
		ApproverID:  &approver.ID,
	}

	mockUseCase.On("Reject", mock.Anything, requestID, approver.ID).
		Return(rejected, nil).
		Once()

	c, w := createTestContext(http.MethodPost, "/v1/verifications/"+requestID.String()+"/reject", nil, approver)
	c.Params = gin.Params{{Key: "id", Value: requestID.String()}}
	handler.RejectHandler(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockUseCase.AssertExpectations(t)
}

func TestVerificationHandler_GetHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		requestID := uuid.Must(uuid.NewV7())

		stored := &verificationDomain.Request{
			ID:          requestID,
			PrincipalID: uuid.Must(uuid.NewV7()),
			Status:      verificationDomain.StatusExpired,
		}

		mockUseCase.On("Status", mock.Anything, requestID).Return(stored, nil).Once()

		c, w := createTestContext(http.MethodGet, "/v1/verifications/"+requestID.String(), nil, testPrincipal())
		c.Params = gin.Params{{Key: "id", Value: requestID.String()}}
		handler.GetHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.VerificationResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "expired", response.Status)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_NotFound", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		requestID := uuid.Must(uuid.NewV7())

		mockUseCase.On("Status", mock.Anything, requestID).
			Return(nil, verificationDomain.ErrVerificationNotFound).
			Once()

		c, w := createTestContext(http.MethodGet, "/v1/verifications/"+requestID.String(), nil, testPrincipal())
		c.Params = gin.Params{{Key: "id", Value: requestID.String()}}
		handler.GetHandler(c)

		assert.Equal(t, http.StatusNotFound, w.Code)
		mockUseCase.AssertExpectations(t)
	})
}

func TestVerificationHandler_ListHandler(t *testing.T) {
	t.Run("Success_DefaultsToCaller", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		principal := testPrincipal()

		requests := []*verificationDomain.Request{
			{ID: uuid.Must(uuid.NewV7()), PrincipalID: principal.ID, Status: verificationDomain.StatusPending},
			{ID: uuid.Must(uuid.NewV7()), PrincipalID: principal.ID, Status: verificationDomain.StatusApproved},
		}

		mockUseCase.On("List", mock.Anything, principal.ID, 0, 50).
			Return(requests, nil).
			Once()

		c, w := createTestContext(http.MethodGet, "/v1/verifications", nil, principal)
		handler.ListHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)

		var response dto.ListVerificationsResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response.Data, 2)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Success_ExplicitPrincipal", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)
		other := uuid.Must(uuid.NewV7())

		mockUseCase.On("List", mock.Anything, other, 0, 50).
			Return([]*verificationDomain.Request{}, nil).
			Once()

		c, w := createTestContext(http.MethodGet, "/v1/verifications?principal_id="+other.String(), nil, testPrincipal())
		handler.ListHandler(c)

		assert.Equal(t, http.StatusOK, w.Code)
		mockUseCase.AssertExpectations(t)
	})

	t.Run("Error_InvalidPrincipalID", func(t *testing.T) {
		handler, mockUseCase := setupTestVerificationHandler(t)

		c, w := createTestContext(http.MethodGet, "/v1/verifications?principal_id=nope", nil, testPrincipal())
		handler.ListHandler(c)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		mockUseCase.AssertExpectations(t)
	})
}
