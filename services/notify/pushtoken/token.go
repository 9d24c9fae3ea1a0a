// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pushtoken mints and verifies the stateless HMAC tokens that let
// an origin server call back into this service to trigger an immediate
// re-poll.
//
// A token binds an event name and an expiry to a signature over the
// encoded pair:
//
//	"u" + base64url(JSON([event, expiresMs])) + "." + "u" + base64url(HMAC-SHA-256(key, payload))
//
// The "u" prefixes are multibase markers for base64url. Tokens carry no
// server-side state; possession of an unexpired token for the expected
// event is the entire credential.
//
// Verification failures are deliberately opaque: callers receive only an
// InvalidTokenError and cannot distinguish an expired token from a bad
// signature. The cause survives for logs via errors.Unwrap.
package pushtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTTL is the token lifetime when the caller does not pick an
	// expiry.
	DefaultTTL = 20 * time.Minute

	// ClockSkew is how far past its expiry a token is still accepted, to
	// absorb clock drift between this service and the origin.
	ClockSkew = 5 * time.Minute
)

// Token is a minted push token and its detached signature.
type Token struct {
	// Token is the full wire-format bearer string.
	Token string `json:"token"`

	// Signature is the multibase-u signature half, returned separately
	// so callers can store or log it without the payload.
	Signature string `json:"signature"`
}

// Claims are the verified contents of a push token.
type Claims struct {
	// Event names the notification event the token authorizes.
	Event string `json:"event"`

	// Expires is the token expiry.
	Expires time.Time `json:"expires"`
}

// Tokens mints and verifies push tokens with a single process-wide key.
//
// A nil *Tokens is the disabled state: every operation fails with
// ErrDisabled. This mirrors the configuration contract where a missing
// push.hmacKey disables push entirely.
type Tokens struct {
	key *Key
	now func() time.Time
}

// New creates a Tokens instance bound to key.
func New(key *Key) *Tokens {
	return &Tokens{key: key, now: time.Now}
}

// Enabled reports whether push tokens are configured.
func (t *Tokens) Enabled() bool {
	return t != nil && t.key != nil
}

// Create mints a token for event.
//
// # Inputs
//
//   - event: Event name bound into the token, e.g. "exchangeUpdated".
//   - expires: Token expiry. The zero time selects now + DefaultTTL.
//
// # Outputs
//
//   - Token: Wire-format token and its detached signature.
//   - error: ErrDisabled when push is not configured.
func (t *Tokens) Create(event string, expires time.Time) (Token, error) {
	if !t.Enabled() {
		return Token{}, ErrDisabled
	}
	if expires.IsZero() {
		expires = t.now().Add(DefaultTTL)
	}

	payload, err := encodePayload(event, expires)
	if err != nil {
		return Token{}, err
	}
	sig := t.sign(payload)

	return Token{
		Token:     "u" + payload + ".u" + sig,
		Signature: "u" + sig,
	}, nil
}

// Verify checks token and returns its claims.
//
// # Inputs
//
//   - token: The presented bearer string.
//   - expectedEvent: When non-empty, the token's event must match.
//
// # Outputs
//
//   - Claims: The verified event and expiry.
//   - error: ErrDisabled when push is not configured; otherwise every
//     failure is wrapped in InvalidTokenError. Internally the cause is
//     ErrSyntax for structural problems and ErrConstraint for expiry,
//     event mismatch, and signature mismatch.
//
// The signature comparison uses crypto/hmac.Equal, so verification time
// does not depend on the position of the first differing byte.
func (t *Tokens) Verify(token, expectedEvent string) (Claims, error) {
	if !t.Enabled() {
		return Claims{}, ErrDisabled
	}

	payload, presentedSig, err := splitToken(token)
	if err != nil {
		return Claims{}, invalidToken(err)
	}

	claims, err := decodePayload(payload)
	if err != nil {
		return Claims{}, invalidToken(err)
	}

	if claims.Expires.Before(t.now().Add(-ClockSkew)) {
		return Claims{}, invalidToken(fmt.Errorf("%w: token expired", ErrConstraint))
	}
	if expectedEvent != "" && claims.Event != expectedEvent {
		return Claims{}, invalidToken(fmt.Errorf("%w: unexpected event", ErrConstraint))
	}

	presented, err := base64.RawURLEncoding.DecodeString(presentedSig)
	if err != nil {
		return Claims{}, invalidToken(fmt.Errorf("%w: signature is not base64url", ErrSyntax))
	}
	expected := t.mac(payload)
	if !hmac.Equal(presented, expected) {
		return Claims{}, invalidToken(fmt.Errorf("%w: signature mismatch", ErrConstraint))
	}

	return claims, nil
}

// sign computes the multibase-less base64url signature over payload.
func (t *Tokens) sign(payload string) string {
	return base64.RawURLEncoding.EncodeToString(t.mac(payload))
}

// mac computes HMAC-SHA-256 over the encoded payload string.
func (t *Tokens) mac(payload string) []byte {
	h := hmac.New(sha256.New, t.key.bytes())
	h.Write([]byte(payload))
	return h.Sum(nil)
}

// encodePayload builds base64url(JSON([event, expiresMs])).
func encodePayload(event string, expires time.Time) (string, error) {
	raw, err := json.Marshal([]any{event, expires.UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodePayload reverses encodePayload.
func decodePayload(payload string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: payload is not base64url", ErrSyntax)
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) != 2 {
		return Claims{}, fmt.Errorf("%w: payload is not a two-element array", ErrSyntax)
	}

	var event string
	if err := json.Unmarshal(tuple[0], &event); err != nil {
		return Claims{}, fmt.Errorf("%w: event is not a string", ErrSyntax)
	}
	var expiresMs int64
	if err := json.Unmarshal(tuple[1], &expiresMs); err != nil {
		return Claims{}, fmt.Errorf("%w: expiry is not a number", ErrSyntax)
	}

	return Claims{Event: event, Expires: time.UnixMilli(expiresMs)}, nil
}

// splitToken separates the payload and signature halves, stripping the
// multibase markers.
func splitToken(token string) (payload, signature string, err error) {
	head, tail, found := strings.Cut(token, ".")
	if !found {
		return "", "", fmt.Errorf("%w: missing separator", ErrSyntax)
	}
	if len(head) < 2 || head[0] != multibasePrefix {
		return "", "", fmt.Errorf("%w: payload is not multibase-u", ErrSyntax)
	}
	if len(tail) < 2 || tail[0] != multibasePrefix {
		return "", "", fmt.Errorf("%w: signature is not multibase-u", ErrSyntax)
	}
	return head[1:], tail[1:], nil
}
