// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// Frame layout constants. A frame is a 4-byte big-endian payload
// length followed by the payload; the payload is a fixed-size
// signature followed by the codec-encoded envelope.
const (
	frameHeaderLength = 4
	signatureLength   = sha256.Size

	// maxEnvelopeLength bounds a single envelope. Large display
	// payloads (images) fit comfortably; anything bigger indicates a
	// corrupt or hostile stream.
	maxEnvelopeLength = 16 << 20
)

// Signer authenticates envelopes with HMAC-SHA256 over the encoded
// envelope bytes. An empty key disables signing: signatures are sent
// as zero bytes and not verified on receipt, matching descriptors
// written with no key for local debugging.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for the given key. The key is the raw
// byte form of the connection descriptor's hex key field.
func NewSigner(key []byte) *Signer {
	return &Signer{key: append([]byte(nil), key...)}
}

// NewKey generates a fresh random signing key, hex-encoded for
// embedding in a connection descriptor.
func NewKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("wire: generating signing key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// ParseKey decodes a descriptor's hex key field. An empty field is a
// valid empty key.
func ParseKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid signing key: %w", err)
	}
	return key, nil
}

// Sign computes the signature for an encoded envelope.
func (s *Signer) Sign(envelope []byte) [signatureLength]byte {
	var signature [signatureLength]byte
	if len(s.key) == 0 {
		return signature
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(envelope)
	mac.Sum(signature[:0])
	return signature
}

// Verify reports whether signature authenticates the encoded envelope.
// Always true for an empty key.
func (s *Signer) Verify(envelope, signature []byte) bool {
	if len(s.key) == 0 {
		return true
	}
	expected := s.Sign(envelope)
	return hmac.Equal(signature, expected[:])
}

// WriteFrame signs the encoded envelope and writes one complete frame.
func WriteFrame(w io.Writer, signer *Signer, envelope []byte) error {
	if len(envelope) > maxEnvelopeLength {
		return fmt.Errorf("wire: envelope length %d exceeds maximum %d", len(envelope), maxEnvelopeLength)
	}

	frame := make([]byte, frameHeaderLength+signatureLength+len(envelope))
	binary.BigEndian.PutUint32(frame, uint32(signatureLength+len(envelope)))
	signature := signer.Sign(envelope)
	copy(frame[frameHeaderLength:], signature[:])
	copy(frame[frameHeaderLength+signatureLength:], envelope)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("wire: writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame, verifies its signature, and returns the
// encoded envelope. A signature mismatch is unrecoverable for the
// stream: the caller cannot trust subsequent framing and must close
// the connection.
func ReadFrame(r io.Reader, signer *Signer) ([]byte, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: reading frame header: %w", err)
	}

	payloadLength := binary.BigEndian.Uint32(header[:])
	if payloadLength < signatureLength {
		return nil, fmt.Errorf("wire: frame payload length %d is shorter than a signature", payloadLength)
	}
	if payloadLength > signatureLength+maxEnvelopeLength {
		return nil, fmt.Errorf("wire: frame payload length %d exceeds maximum %d", payloadLength, signatureLength+maxEnvelopeLength)
	}

	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading frame payload: %w", err)
	}

	signature := payload[:signatureLength]
	envelope := payload[signatureLength:]
	if !signer.Verify(envelope, signature) {
		return nil, fmt.Errorf("wire: frame signature mismatch")
	}
	return envelope, nil
}
