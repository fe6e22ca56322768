// Package signature verifies detached Ed25519 signatures over canonical
// JSON payloads: control-plane tickets and model manifests.
//
// The signed message is the JSON serialization of a fixed-field-order
// payload struct; producing it through the same struct on both sides is
// what makes the encoding canonical. Signatures are 64 raw bytes;
// public keys travel as standard base64 of the 32-byte key.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error classification codes.
var (
	// ErrTicketSignature indicates a ticket signature failed to verify
	// or could not be checked.
	ErrTicketSignature = errors.New("signature: invalid ticket signature")

	// ErrModelSignature indicates a model manifest signature failed to
	// verify or could not be checked.
	ErrModelSignature = errors.New("signature: invalid model signature")
)

// signingSchemaVersion is the version field embedded in every signed
// payload.
const signingSchemaVersion = 1

// ticketPayload is the canonical ticket message. Field order is part of
// the wire format; never reorder.
type ticketPayload struct {
	Version       uint8     `json:"version"`
	MemoryID      uuid.UUID `json:"memory_id"`
	Issuer        string    `json:"issuer"`
	SeqNo         int64     `json:"seq_no"`
	ExpiresIn     uint64    `json:"expires_in"`
	CapacityBytes *uint64   `json:"capacity_bytes"`
}

// modelPayload is the canonical model manifest message.
type modelPayload struct {
	Version      uint8  `json:"version"`
	Name         string `json:"name"`
	ModelVersion string `json:"model_version"`
	Checksum     string `json:"checksum"`
	SizeBytes    uint64 `json:"size_bytes"`
}

// TicketMessage returns the canonical bytes signed for a ticket.
func TicketMessage(memoryID uuid.UUID, issuer string, seqNo int64, expiresIn uint64, capacityBytes *uint64) ([]byte, error) {
	msg, err := json.Marshal(ticketPayload{
		Version:       signingSchemaVersion,
		MemoryID:      memoryID,
		Issuer:        issuer,
		SeqNo:         seqNo,
		ExpiresIn:     expiresIn,
		CapacityBytes: capacityBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: serializing payload: %v", ErrTicketSignature, err)
	}

	return msg, nil
}

// ModelMessage returns the canonical bytes signed for a model manifest.
// checksumHex is the hex digest of the model artifact.
func ModelMessage(name, modelVersion, checksumHex string, sizeBytes uint64) ([]byte, error) {
	msg, err := json.Marshal(modelPayload{
		Version:      signingSchemaVersion,
		Name:         name,
		ModelVersion: modelVersion,
		Checksum:     checksumHex,
		SizeBytes:    sizeBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: serializing payload: %v", ErrModelSignature, err)
	}

	return msg, nil
}

// VerifyTicket checks a detached ticket signature against the public key.
func VerifyTicket(pub ed25519.PublicKey, memoryID uuid.UUID, issuer string, seqNo int64, expiresIn uint64, capacityBytes *uint64, sig []byte) error {
	msg, err := TicketMessage(memoryID, issuer, seqNo, expiresIn, capacityBytes)
	if err != nil {
		return err
	}

	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature must be exactly %d bytes", ErrTicketSignature, ed25519.SignatureSize)
	}

	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("%w: ticket signature mismatch", ErrTicketSignature)
	}

	return nil
}

// VerifyModelManifest checks a detached model manifest signature against
// the public key.
func VerifyModelManifest(pub ed25519.PublicKey, name, modelVersion, checksumHex string, sizeBytes uint64, sig []byte) error {
	msg, err := ModelMessage(name, modelVersion, checksumHex, sizeBytes)
	if err != nil {
		return err
	}

	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature must be exactly %d bytes", ErrModelSignature, ed25519.SignatureSize)
	}

	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("%w: model signature mismatch", ErrModelSignature)
	}

	return nil
}

// ParsePublicKeyBase64 decodes a standard-base64 Ed25519 public key.
func ParsePublicKeyBase64(encoded string) (ed25519.PublicKey, error) {
	trimmed := strings.TrimSpace(encoded)

	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 public key: %v", ErrTicketSignature, err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", ErrTicketSignature, ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(raw), nil
}
