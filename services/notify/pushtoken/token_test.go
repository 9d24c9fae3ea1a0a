// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pushtoken

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

// testSecret builds a valid multibase-u multikey secret.
func testSecret(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 2+keyByteLength)
	raw[0] = multikeyAES256[0]
	raw[1] = multikeyAES256[1]
	for i := 2; i < len(raw); i++ {
		raw[i] = byte(i * 7)
	}
	return "u" + base64.RawURLEncoding.EncodeToString(raw)
}

// testTokens builds a ready Tokens instance.
func testTokens(t *testing.T) *Tokens {
	t.Helper()
	key, err := DecodeKey("test-key", testSecret(t))
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	t.Cleanup(key.Destroy)
	return New(key)
}

func TestDecodeKey(t *testing.T) {
	t.Run("valid secret", func(t *testing.T) {
		key, err := DecodeKey("k1", testSecret(t))
		if err != nil {
			t.Fatalf("DecodeKey failed: %v", err)
		}
		defer key.Destroy()
		if key.ID != "k1" {
			t.Errorf("ID = %q, want k1", key.ID)
		}
		if len(key.bytes()) != keyByteLength {
			t.Errorf("key length = %d, want %d", len(key.bytes()), keyByteLength)
		}
	})

	t.Run("missing multibase prefix", func(t *testing.T) {
		_, err := DecodeKey("k1", "zabcdef")
		if !errors.Is(err, ErrNotSupported) {
			t.Errorf("error = %v, want ErrNotSupported", err)
		}
	})

	t.Run("unknown multikey header", func(t *testing.T) {
		raw := make([]byte, 2+keyByteLength)
		raw[0] = 0xED // ed25519 header, not supported here
		raw[1] = 0x01
		_, err := DecodeKey("k1", "u"+base64.RawURLEncoding.EncodeToString(raw))
		if !errors.Is(err, ErrNotSupported) {
			t.Errorf("error = %v, want ErrNotSupported", err)
		}
	})

	t.Run("wrong key length", func(t *testing.T) {
		raw := make([]byte, 2+16) // AES-256 header but 16 key bytes
		raw[0] = multikeyAES256[0]
		raw[1] = multikeyAES256[1]
		secret := "u" + base64.RawURLEncoding.EncodeToString(raw)

		_, err := DecodeKey("k1", secret)
		if !errors.Is(err, ErrData) {
			t.Fatalf("error = %v, want ErrData", err)
		}
		// A misconfigured secret must not leak into the message.
		if strings.Contains(err.Error(), secret[1:10]) {
			t.Errorf("error message echoes key material: %v", err)
		}
	})
}

func TestCreateVerifyRoundTrip(t *testing.T) {
	tokens := testTokens(t)

	tok, err := tokens.Create("exchangeUpdated", time.Time{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(tok.Token, "u") || !strings.Contains(tok.Token, ".u") {
		t.Errorf("token %q is not multibase framed", tok.Token)
	}

	claims, err := tokens.Verify(tok.Token, "exchangeUpdated")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Event != "exchangeUpdated" {
		t.Errorf("event = %q, want exchangeUpdated", claims.Event)
	}

	// Default expiry is now + 20 minutes, to millisecond precision.
	remaining := time.Until(claims.Expires)
	if remaining < 19*time.Minute || remaining > 21*time.Minute {
		t.Errorf("default expiry %v from now, want ~20m", remaining)
	}
}

func TestVerifyExpiry(t *testing.T) {
	tokens := testTokens(t)
	base := time.Now()

	t.Run("expired beyond skew", func(t *testing.T) {
		tok, err := tokens.Create("e", base.Add(-10*time.Minute))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		_, err = tokens.Verify(tok.Token, "e")
		var invalid *InvalidTokenError
		if !errors.As(err, &invalid) {
			t.Fatalf("error = %v, want InvalidTokenError", err)
		}
		if !errors.Is(err, ErrConstraint) {
			t.Errorf("cause = %v, want ErrConstraint", errors.Unwrap(err))
		}
	})

	t.Run("expired within skew still accepted", func(t *testing.T) {
		tok, err := tokens.Create("e", base.Add(-2*time.Minute))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := tokens.Verify(tok.Token, "e"); err != nil {
			t.Errorf("Verify failed inside the skew window: %v", err)
		}
	})
}

func TestVerifyEventMismatch(t *testing.T) {
	tokens := testTokens(t)

	tok, err := tokens.Create("exchangeUpdated", time.Time{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = tokens.Verify(tok.Token, "somethingElse")
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if err.Error() != "invalid push token" {
		t.Errorf("external message = %q, want opaque \"invalid push token\"", err.Error())
	}
	if !errors.Is(err, ErrConstraint) {
		t.Errorf("cause = %v, want ErrConstraint", errors.Unwrap(err))
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	tokens := testTokens(t)

	tok, err := tokens.Create("exchangeUpdated", time.Time{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Flip the final signature character to a different base64url rune.
	// The last of the 43 characters carries 4 data bits and 2 unused
	// low bits, so the replacement must differ in a data bit: 'A' (0)
	// becomes 'E' (4); any other final character becomes 'A'.
	tampered := []byte(tok.Token)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'E'
	} else {
		tampered[last] = 'A'
	}

	_, err = tokens.Verify(string(tampered), "exchangeUpdated")
	var invalid *InvalidTokenError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidTokenError", err)
	}
	if err.Error() != "invalid push token" {
		t.Errorf("external message = %q, want opaque \"invalid push token\"", err.Error())
	}
}

func TestVerifySyntax(t *testing.T) {
	tokens := testTokens(t)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "uabcdef"},
		{"payload not multibase", "abc.udef"},
		{"signature not multibase", "uabc.def"},
		{"payload not base64url", "u!!!.u!!!"},
		{"payload not a tuple", "u" + "e30" + ".u" + "e30"}, // {} is valid b64 of "{}"
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tokens.Verify(tc.token, "")
			var invalid *InvalidTokenError
			if !errors.As(err, &invalid) {
				t.Fatalf("error = %v, want InvalidTokenError", err)
			}
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("cause = %v, want ErrSyntax", errors.Unwrap(err))
			}
		})
	}
}

func TestDisabled(t *testing.T) {
	var tokens *Tokens

	if tokens.Enabled() {
		t.Error("nil Tokens should be disabled")
	}
	if _, err := tokens.Create("e", time.Time{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("Create error = %v, want ErrDisabled", err)
	}
	if _, err := tokens.Verify("u.u", ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("Verify error = %v, want ErrDisabled", err)
	}
}
