// Package dto provides data transfer objects for the authentication API.
package dto

import (
	validation "github.com/jellydator/validation"

	tokenDomain "github.com/sallyport/gateway/internal/token/domain"
	customValidation "github.com/sallyport/gateway/internal/validation"
)

// Grant types accepted by the token endpoint.
const (
	GrantOIDC              = "oidc"
	GrantOAuth2            = "oauth2"
	GrantSAML              = "saml"
	GrantClientCredentials = "client_credentials"
)

// IssueTokenRequest contains the parameters for establishing a session from
// an identity credential.
type IssueTokenRequest struct {
	GrantType string `json:"grant_type"`

	// Token carries the JWT for the oidc and oauth2 grants.
	Token string `json:"token,omitempty"`

	// Assertion carries the SAML assertion for the saml grant.
	Assertion *tokenDomain.SAMLAssertion `json:"assertion,omitempty"`

	// PrincipalID and ClientSecret authenticate the client_credentials grant.
	PrincipalID  string `json:"principal_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// PKCE proof for authorization-code flows. When a challenge is present
	// the verifier must match under the S256 method.
	CodeVerifier        string `json:"code_verifier,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// Validate checks if the issue token request is valid.
func (r *IssueTokenRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.GrantType,
			validation.Required,
			validation.In(GrantOIDC, GrantOAuth2, GrantSAML, GrantClientCredentials),
		),
		validation.Field(&r.Token,
			validation.Required.When(r.GrantType == GrantOIDC || r.GrantType == GrantOAuth2),
		),
		validation.Field(&r.Assertion,
			validation.Required.When(r.GrantType == GrantSAML),
		),
		validation.Field(&r.PrincipalID,
			validation.Required.When(r.GrantType == GrantClientCredentials),
		),
		validation.Field(&r.ClientSecret,
			validation.Required.When(r.GrantType == GrantClientCredentials),
		),
		validation.Field(&r.CodeVerifier,
			validation.Required.When(r.CodeChallenge != ""),
		),
		validation.Field(&r.CodeChallenge, customValidation.Base64URL),
	)
}

// RefreshTokenRequest contains the parameters for rotating a refresh token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate checks if the refresh token request is valid.
func (r *RefreshTokenRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// RevokeTokenRequest contains the parameters for revoking a refresh token family.
type RevokeTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate checks if the revoke token request is valid.
func (r *RevokeTokenRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}
