package usecase

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sallyport/gateway/internal/config"
	"github.com/sallyport/gateway/internal/policy"
	principalDomain "github.com/sallyport/gateway/internal/principal/domain"
)

// mockPrincipalRepository is a mock implementation of PrincipalRepository for testing.
type mockPrincipalRepository struct {
	mock.Mock
}

func (m *mockPrincipalRepository) Create(ctx context.Context, principal *principalDomain.Principal) error {
	args := m.Called(ctx, principal)
	return args.Error(0)
}

func (m *mockPrincipalRepository) Update(ctx context.Context, principal *principalDomain.Principal) error {
	args := m.Called(ctx, principal)
	return args.Error(0)
}

func (m *mockPrincipalRepository) Get(ctx context.Context, id uuid.UUID) (*principalDomain.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principalDomain.Principal), args.Error(1)
}

func (m *mockPrincipalRepository) GetByExternalSubject(ctx context.Context, subject string) (*principalDomain.Principal, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principalDomain.Principal), args.Error(1)
}

func principalTestConfig() *config.Config {
	return &config.Config{
		DefaultTier: "sapphire",
	}
}

func activePrincipal() *principalDomain.Principal {
	return &principalDomain.Principal{
		ID:              uuid.Must(uuid.NewV7()),
		ExternalSubject: "oidc|subject-1",
		Tier:            policy.TierSapphire,
		TrustScore:      principalDomain.DefaultTrustScore,
		IsActive:        true,
	}
}

func TestPrincipalUseCaseProvision(t *testing.T) {
	t.Run("first sign-in provisions a new principal", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		repo.On("GetByExternalSubject", mock.Anything, "oidc|new-subject").
			Return(nil, principalDomain.ErrPrincipalNotFound)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return p.ExternalSubject == "oidc|new-subject" &&
				p.Tier == policy.TierSapphire &&
				p.VerifiedEmail &&
				p.TrustScore == principalDomain.DefaultTrustScore &&
				p.IsActive
		})).Return(nil)

		got, err := uc.Provision(context.Background(), &principalDomain.ProvisionInput{
			ExternalSubject: "oidc|new-subject",
			EmailVerified:   true,
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, got.ID)
		repo.AssertExpectations(t)
	})

	t.Run("explicit tier overrides the configured default", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		repo.On("GetByExternalSubject", mock.Anything, "oidc|ruby-subject").
			Return(nil, principalDomain.ErrPrincipalNotFound)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return p.Tier == policy.TierRuby
		})).Return(nil)

		got, err := uc.Provision(context.Background(), &principalDomain.ProvisionInput{
			ExternalSubject: "oidc|ruby-subject",
			Tier:            policy.TierRuby,
		})

		require.NoError(t, err)
		assert.Equal(t, policy.TierRuby, got.Tier)
	})

	t.Run("subsequent sign-in merges instead of duplicating", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		repo.On("GetByExternalSubject", mock.Anything, existing.ExternalSubject).
			Return(existing, nil)

		got, err := uc.Provision(context.Background(), &principalDomain.ProvisionInput{
			ExternalSubject: existing.ExternalSubject,
		})

		require.NoError(t, err)
		assert.Equal(t, existing.ID, got.ID)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("gained email verification raises the trust score", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.VerifiedEmail = false
		repo.On("GetByExternalSubject", mock.Anything, existing.ExternalSubject).
			Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return p.VerifiedEmail && p.TrustScore == principalDomain.DefaultTrustScore+10
		})).Return(nil)

		got, err := uc.Provision(context.Background(), &principalDomain.ProvisionInput{
			ExternalSubject: existing.ExternalSubject,
			EmailVerified:   true,
		})

		require.NoError(t, err)
		assert.True(t, got.VerifiedEmail)
		repo.AssertExpectations(t)
	})

	t.Run("deactivated principal is never re-activated", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.IsActive = false
		repo.On("GetByExternalSubject", mock.Anything, existing.ExternalSubject).
			Return(existing, nil)

		_, err := uc.Provision(context.Background(), &principalDomain.ProvisionInput{
			ExternalSubject: existing.ExternalSubject,
			EmailVerified:   true,
		})

		require.ErrorIs(t, err, principalDomain.ErrPrincipalInactive)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestPrincipalUseCaseGet(t *testing.T) {
	t.Run("returns active principal", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)

		got, err := uc.Get(context.Background(), existing.ID)

		require.NoError(t, err)
		assert.Equal(t, existing.ID, got.ID)
	})

	t.Run("inactive principal", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.IsActive = false
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)

		_, err := uc.Get(context.Background(), existing.ID)

		require.ErrorIs(t, err, principalDomain.ErrPrincipalInactive)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		id := uuid.Must(uuid.NewV7())
		repo.On("Get", mock.Anything, id).Return(nil, principalDomain.ErrPrincipalNotFound)

		_, err := uc.Get(context.Background(), id)

		require.ErrorIs(t, err, principalDomain.ErrPrincipalNotFound)
	})
}

func TestPrincipalUseCaseDeactivate(t *testing.T) {
	t.Run("marks principal inactive", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return !p.IsActive
		})).Return(nil)

		err := uc.Deactivate(context.Background(), existing.ID)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("already inactive is a no-op", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.IsActive = false
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)

		err := uc.Deactivate(context.Background(), existing.ID)

		require.NoError(t, err)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestPrincipalUseCaseRegisterIP(t *testing.T) {
	t.Run("appends new IP", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.RegisteredIPs = []string{"203.0.113.10"}
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return len(p.RegisteredIPs) == 2 && p.RegisteredIPs[1] == "198.51.100.7"
		})).Return(nil)

		err := uc.RegisterIP(context.Background(), existing.ID, "198.51.100.7")

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("known IP is a no-op", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.RegisteredIPs = []string{"203.0.113.10"}
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)

		err := uc.RegisterIP(context.Background(), existing.ID, "203.0.113.10")

		require.NoError(t, err)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestPrincipalUseCaseSetPaymentVerified(t *testing.T) {
	t.Run("records payment verification and raises trust score", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return p.VerifiedPaymentMethod && p.TrustScore == principalDomain.DefaultTrustScore+10
		})).Return(nil)

		err := uc.SetPaymentVerified(context.Background(), existing.ID)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("already verified is a no-op", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.VerifiedPaymentMethod = true
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)

		err := uc.SetPaymentVerified(context.Background(), existing.ID)

		require.NoError(t, err)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("trust score never exceeds the maximum", func(t *testing.T) {
		repo := new(mockPrincipalRepository)
		uc := NewPrincipalUseCase(principalTestConfig(), repo)

		existing := activePrincipal()
		existing.TrustScore = principalDomain.MaxTrustScore - 3
		repo.On("Get", mock.Anything, existing.ID).Return(existing, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(p *principalDomain.Principal) bool {
			return p.TrustScore == principalDomain.MaxTrustScore
		})).Return(nil)

		err := uc.SetPaymentVerified(context.Background(), existing.ID)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}
