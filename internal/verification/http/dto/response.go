package dto

import (
	"time"

	verificationDomain "github.com/sallyport/gateway/internal/verification/domain"
)

// VerificationResponse represents a verification request in API responses.
type VerificationResponse struct {
	ID           string     `json:"id"`
	PrincipalID  string     `json:"principal_id"`
	Purpose      string     `json:"purpose"`
	AccessLevel  string     `json:"access_level"`
	DeviceInfo   string     `json:"device_info,omitempty"`
	LocationInfo string     `json:"location_info,omitempty"`
	Status       string     `json:"status"`
	ApproverID   *string    `json:"approver_id,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// MapRequestToResponse converts a domain verification request to an API response.
func MapRequestToResponse(request *verificationDomain.Request) VerificationResponse {
	response := VerificationResponse{
		ID:           request.ID.String(),
		PrincipalID:  request.PrincipalID.String(),
		Purpose:      request.Purpose,
		AccessLevel:  request.AccessLevel,
		DeviceInfo:   request.DeviceInfo,
		LocationInfo: request.LocationInfo,
		Status:       string(request.Status),
		RequestedAt:  request.RequestedAt,
		ExpiresAt:    request.ExpiresAt,
		CompletedAt:  request.CompletedAt,
	}
	if request.ApproverID != nil {
		approverID := request.ApproverID.String()
		response.ApproverID = &approverID
	}
	return response
}

// ListVerificationsResponse represents a paginated list of verification requests.
type ListVerificationsResponse struct {
	Data []VerificationResponse `json:"data"`
}

// MapRequestsToListResponse converts domain verification requests to a list response.
func MapRequestsToListResponse(requests []*verificationDomain.Request) ListVerificationsResponse {
	data := make([]VerificationResponse, 0, len(requests))
	for _, request := range requests {
		data = append(data, MapRequestToResponse(request))
	}
	return ListVerificationsResponse{Data: data}
}
