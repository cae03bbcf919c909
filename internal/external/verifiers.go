package external

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// SendGridVerifier authenticates SendGrid Event Webhook posts. SendGrid
// signs each post with ECDSA over P-256: the signature covers the
// timestamp header concatenated with the raw body, and arrives base64
// encoded in the X-Twilio-Email-Event-Webhook-Signature header.
type SendGridVerifier struct{}

var _ EmailVerifier = (*SendGridVerifier)(nil)

// Verify reports whether signature is valid for timestamp+payload under
// publicKey. A well-formed but wrong signature yields (false, nil);
// an error means the key or signature could not be decoded at all.
func (v *SendGridVerifier) Verify(payload []byte, signature string, timestamp string, publicKey string) (bool, error) {
	key, err := decodeECPublicKey(publicKey)
	if err != nil {
		return false, err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	r, s, err := splitASN1Signature(sig)
	if err != nil {
		return false, err
	}

	// The signed message is the timestamp string immediately followed by
	// the raw body bytes.
	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write(payload)

	return ecdsa.Verify(key, h.Sum(nil), r, s), nil
}

// decodeECPublicKey accepts the key as SendGrid's settings page presents
// it: base64 DER, optionally wrapped in a PEM block.
func decodeECPublicKey(raw string) (*ecdsa.PublicKey, error) {
	if raw == "" {
		return nil, errors.New("public key is empty")
	}

	der := []byte(nil)
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		var err error
		der, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding public key: %w", err)
		}
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ECDSA", pub)
	}
	return key, nil
}

// splitASN1Signature unpacks a DER-encoded ECDSA signature into its
// (r, s) pair.
func splitASN1Signature(sig []byte) (*big.Int, *big.Int, error) {
	var parsed struct {
		R, S *big.Int
	}
	rest, err := asn1.Unmarshal(sig, &parsed)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing signature: %w", err)
	}
	if len(rest) > 0 {
		return nil, nil, errors.New("trailing bytes after signature")
	}
	if parsed.R == nil || parsed.S == nil {
		return nil, nil, errors.New("signature missing R or S")
	}
	return parsed.R, parsed.S, nil
}
