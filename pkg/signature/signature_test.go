package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	return pub, priv
}

func TestTicketSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t)

	memoryID := uuid.New()
	capacity := uint64(42)

	msg, err := TicketMessage(memoryID, "issuer", 5, 60, &capacity)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, msg)

	require.NoError(t, VerifyTicket(pub, memoryID, "issuer", 5, 60, &capacity, sig))
}

func TestTicketSignatureRejectsAlteredFields(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t)

	memoryID := uuid.New()
	capacity := uint64(42)
	otherCapacity := uint64(43)

	msg, err := TicketMessage(memoryID, "issuer", 5, 60, &capacity)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, msg)

	tests := []struct {
		name   string
		verify func() error
	}{
		{
			name: "different memory id",
			verify: func() error {
				return VerifyTicket(pub, uuid.New(), "issuer", 5, 60, &capacity, sig)
			},
		},
		{
			name: "different issuer",
			verify: func() error {
				return VerifyTicket(pub, memoryID, "other", 5, 60, &capacity, sig)
			},
		},
		{
			name: "different seq",
			verify: func() error {
				return VerifyTicket(pub, memoryID, "issuer", 6, 60, &capacity, sig)
			},
		},
		{
			name: "different expiry",
			verify: func() error {
				return VerifyTicket(pub, memoryID, "issuer", 5, 61, &capacity, sig)
			},
		},
		{
			name: "different capacity",
			verify: func() error {
				return VerifyTicket(pub, memoryID, "issuer", 5, 60, &otherCapacity, sig)
			},
		},
		{
			name: "absent capacity",
			verify: func() error {
				return VerifyTicket(pub, memoryID, "issuer", 5, 60, nil, sig)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, tt.verify(), ErrTicketSignature)
		})
	}
}

func TestTicketSignatureRejectsBadSignatureBytes(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t)
	memoryID := uuid.New()

	msg, err := TicketMessage(memoryID, "issuer", 1, 0, nil)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, msg)

	// Wrong length.
	require.ErrorIs(t, VerifyTicket(pub, memoryID, "issuer", 1, 0, nil, sig[:63]), ErrTicketSignature)

	// Flipped bit.
	bad := append([]byte(nil), sig...)
	bad[10] ^= 0x01
	require.ErrorIs(t, VerifyTicket(pub, memoryID, "issuer", 1, 0, nil, bad), ErrTicketSignature)

	// Wrong key.
	otherPub, _ := testKeyPair(t)
	require.ErrorIs(t, VerifyTicket(otherPub, memoryID, "issuer", 1, 0, nil, sig), ErrTicketSignature)
}

func TestModelManifestRoundTrip(t *testing.T) {
	t.Parallel()

	pub, priv := testKeyPair(t)

	msg, err := ModelMessage("embedder", "1.0.0", "abc123", 1024)
	require.NoError(t, err)

	sig := ed25519.Sign(priv, msg)

	require.NoError(t, VerifyModelManifest(pub, "embedder", "1.0.0", "abc123", 1024, sig))
	require.ErrorIs(t, VerifyModelManifest(pub, "embedder", "1.0.1", "abc123", 1024, sig), ErrModelSignature)
	require.ErrorIs(t, VerifyModelManifest(pub, "embedder", "1.0.0", "abc124", 1024, sig), ErrModelSignature)
	require.ErrorIs(t, VerifyModelManifest(pub, "embedder", "1.0.0", "abc123", 1025, sig), ErrModelSignature)
}

func TestParsePublicKeyBase64(t *testing.T) {
	t.Parallel()

	pub, _ := testKeyPair(t)
	encoded := base64.StdEncoding.EncodeToString(pub)

	parsed, err := ParsePublicKeyBase64(encoded)
	require.NoError(t, err)
	require.Equal(t, pub, parsed)

	// Whitespace is tolerated.
	parsed, err = ParsePublicKeyBase64("  " + encoded + "\n")
	require.NoError(t, err)
	require.Equal(t, pub, parsed)

	_, err = ParsePublicKeyBase64("not-base64!!!")
	require.ErrorIs(t, err, ErrTicketSignature)

	_, err = ParsePublicKeyBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	require.ErrorIs(t, err, ErrTicketSignature)
}

func TestCanonicalMessageIsStable(t *testing.T) {
	t.Parallel()

	memoryID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	capacity := uint64(7)

	first, err := TicketMessage(memoryID, "issuer", 5, 60, &capacity)
	require.NoError(t, err)

	for range 5 {
		again, err := TicketMessage(memoryID, "issuer", 5, 60, &capacity)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	// Field order in the serialized form is part of the wire format.
	require.Equal(t,
		`{"version":1,"memory_id":"11111111-2222-3333-4444-555555555555","issuer":"issuer","seq_no":5,"expires_in":60,"capacity_bytes":7}`,
		string(first))
}
