package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
)

func testRecord() *auditDomain.Record {
	principalID := uuid.Must(uuid.NewV7())
	sessionID := uuid.Must(uuid.NewV7())
	return &auditDomain.Record{
		ID:          uuid.Must(uuid.NewV7()),
		Stage:       auditDomain.StagePolicy,
		Decision:    auditDomain.DecisionDeny,
		ReasonCode:  "policy_violation_geo",
		PrincipalID: &principalID,
		SessionID:   &sessionID,
		Tier:        "sapphire",
		RequestID:   "req-123",
		Method:      "GET",
		Path:        "/api/orders",
		ClientIP:    "203.0.113.10",
		Fingerprint: "GET|/api/orders|203.0.113.10|req-123",
		CreatedAt:   time.Now().UTC(),
	}
}

func TestSigner_SignAndVerify(t *testing.T) {
	signer := NewSigner([]byte("test-audit-secret"))

	record := testRecord()
	signature, err := signer.Sign(record)
	require.NoError(t, err)
	require.Len(t, signature, 32)
	record.Signature = signature

	assert.NoError(t, signer.Verify(record))
}

func TestSigner_VerifyDetectsTampering(t *testing.T) {
	signer := NewSigner([]byte("test-audit-secret"))

	tests := []struct {
		name   string
		mutate func(record *auditDomain.Record)
	}{
		{
			name:   "decision flipped",
			mutate: func(r *auditDomain.Record) { r.Decision = auditDomain.DecisionAllow },
		},
		{
			name:   "reason code changed",
			mutate: func(r *auditDomain.Record) { r.ReasonCode = "ok" },
		},
		{
			name:   "path changed",
			mutate: func(r *auditDomain.Record) { r.Path = "/api/other" },
		},
		{
			name:   "principal cleared",
			mutate: func(r *auditDomain.Record) { r.PrincipalID = nil },
		},
		{
			name:   "timestamp shifted",
			mutate: func(r *auditDomain.Record) { r.CreatedAt = r.CreatedAt.Add(time.Second) },
		},
		{
			name:   "signature truncated",
			mutate: func(r *auditDomain.Record) { r.Signature = r.Signature[:16] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := testRecord()
			signature, err := signer.Sign(record)
			require.NoError(t, err)
			record.Signature = signature

			tt.mutate(record)

			assert.ErrorIs(t, signer.Verify(record), auditDomain.ErrSignatureInvalid)
		})
	}
}

func TestSigner_DifferentKeysProduceDifferentSignatures(t *testing.T) {
	record := testRecord()

	sig1, err := NewSigner([]byte("key-one")).Sign(record)
	require.NoError(t, err)
	sig2, err := NewSigner([]byte("key-two")).Sign(record)
	require.NoError(t, err)

	assert.NotEqual(t, sig1, sig2)

	record.Signature = sig1
	assert.ErrorIs(t, NewSigner([]byte("key-two")).Verify(record), auditDomain.ErrSignatureInvalid)
}

func TestSigner_SignatureIsDeterministic(t *testing.T) {
	signer := NewSigner([]byte("test-audit-secret"))
	record := testRecord()

	sig1, err := signer.Sign(record)
	require.NoError(t, err)
	sig2, err := signer.Sign(record)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
}
