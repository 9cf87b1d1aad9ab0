// Package dto provides data transfer objects for the verification API.
package dto

import (
	validation "github.com/jellydator/validation"

	customValidation "github.com/sallyport/gateway/internal/validation"
)

// CreateVerificationRequest contains the parameters for opening a new
// elevated-access verification request.
type CreateVerificationRequest struct {
	Purpose      string `json:"purpose"`
	AccessLevel  string `json:"access_level"`
	DeviceInfo   string `json:"device_info"`
	LocationInfo string `json:"location_info"`
}

// Validate checks if the create verification request is valid.
func (r *CreateVerificationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Purpose,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 500),
		),
		validation.Field(&r.AccessLevel,
			validation.Required,
			customValidation.NotBlank,
			validation.Length(1, 100),
		),
		validation.Field(&r.DeviceInfo,
			validation.Length(0, 500),
		),
		validation.Field(&r.LocationInfo,
			validation.Length(0, 500),
		),
	)
}
