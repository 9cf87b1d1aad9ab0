// Package service provides audit record signing.
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	auditDomain "github.com/sallyport/gateway/internal/audit/domain"
	apperrors "github.com/sallyport/gateway/internal/errors"
)

// Signer signs and verifies audit records.
type Signer interface {
	// Sign computes the HMAC-SHA256 signature over the record's canonical bytes.
	Sign(record *auditDomain.Record) ([]byte, error)

	// Verify checks the record's signature. Returns ErrSignatureInvalid if the
	// record was tampered with or signed under a different key.
	Verify(record *auditDomain.Record) error
}

type hmacSigner struct {
	secret []byte
}

// NewSigner creates an HMAC-based audit record signer using HKDF-SHA256 for
// key derivation and HMAC-SHA256 for signature generation.
func NewSigner(secret []byte) Signer {
	return &hmacSigner{secret: secret}
}

// deriveSigningKey uses HKDF-SHA256 to derive a 32-byte signing key from the
// configured secret. Info parameter: "audit-record-signing-v1" (versioned for
// future algorithm changes).
func (s *hmacSigner) deriveSigningKey() ([]byte, error) {
	info := []byte("audit-record-signing-v1")
	hkdf := hkdf.New(sha256.New, s.secret, nil, info)

	signingKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf, signingKey); err != nil {
		return nil, err
	}

	return signingKey, nil
}

// canonicalizeRecord converts a record to canonical byte representation for signing.
// Uses length-prefixed encoding for variable-length fields to prevent ambiguity.
func canonicalizeRecord(record *auditDomain.Record) []byte {
	// Estimate capacity to reduce allocations (typical record ~512B)
	buf := make([]byte, 0, 512)

	buf = append(buf, record.ID[:]...)
	buf = appendLengthPrefixed(buf, []byte(string(record.Stage)))
	buf = appendLengthPrefixed(buf, []byte(string(record.Decision)))
	buf = appendLengthPrefixed(buf, []byte(record.ReasonCode))

	// Optional UUIDs encode as 16 bytes or a zero-length field.
	if record.PrincipalID != nil {
		buf = appendLengthPrefixed(buf, record.PrincipalID[:])
	} else {
		buf = appendLengthPrefixed(buf, nil)
	}
	if record.SessionID != nil {
		buf = appendLengthPrefixed(buf, record.SessionID[:])
	} else {
		buf = appendLengthPrefixed(buf, nil)
	}

	buf = appendLengthPrefixed(buf, []byte(record.Tier))
	buf = appendLengthPrefixed(buf, []byte(record.RequestID))
	buf = appendLengthPrefixed(buf, []byte(record.Method))
	buf = appendLengthPrefixed(buf, []byte(record.Path))
	buf = appendLengthPrefixed(buf, []byte(record.ClientIP))
	buf = appendLengthPrefixed(buf, []byte(record.Fingerprint))

	// Append timestamp (Unix nano for precision)
	timeBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timeBytes, uint64(record.CreatedAt.UnixNano()))
	buf = append(buf, timeBytes...)

	return buf
}

// appendLengthPrefixed adds a 4-byte big-endian length prefix followed by data.
// Format: [length (4 bytes)] + [data (length bytes)]
func appendLengthPrefixed(buf []byte, data []byte) []byte {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))
	buf = append(buf, length...)
	buf = append(buf, data...)
	return buf
}

// Sign generates the HMAC-SHA256 signature for the record.
func (s *hmacSigner) Sign(record *auditDomain.Record) ([]byte, error) {
	signingKey, err := s.deriveSigningKey()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to derive signing key")
	}
	defer zero(signingKey)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write(canonicalizeRecord(record))
	return mac.Sum(nil), nil
}

// Verify checks if the record signature is valid.
func (s *hmacSigner) Verify(record *auditDomain.Record) error {
	expected, err := s.Sign(record)
	if err != nil {
		return apperrors.Wrap(err, "failed to compute expected signature")
	}

	if !hmac.Equal(record.Signature, expected) {
		return auditDomain.ErrSignatureInvalid
	}

	return nil
}

// zero overwrites sensitive data in memory with zeros.
// Prevents key material from lingering in memory after use.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
