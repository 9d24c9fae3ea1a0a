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
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// multikey framing for the supported secret encoding. The secret is a
// multibase-u (base64url, no padding) blob whose first two bytes identify
// the key type; 0xA2 0x01 is AES-256, followed by 32 raw key bytes. The
// key material is used as an HMAC-SHA-256 key, never for encryption.
const (
	multibasePrefix = 'u'
	keyByteLength   = 32
)

var multikeyAES256 = [2]byte{0xA2, 0x01}

var memguardInitOnce sync.Once

// Key holds the process-wide push-token HMAC secret.
//
// # Description
//
// The secret is decoded once at startup and then pinned in a memguard
// LockedBuffer so it stays off swap and is wiped on interrupt. A Key is
// immutable after construction and safe for concurrent use.
type Key struct {
	// ID is the opaque key identifier from configuration.
	ID string

	buf *memguard.LockedBuffer
}

// DecodeKey parses a multibase-u multikey secret into a Key.
//
// # Inputs
//
//   - id: Opaque key identifier, recorded for logging only.
//   - secretKeyMultibase: Multibase-u encoded multikey blob.
//
// # Outputs
//
//   - *Key: The decoded key, pinned in locked memory.
//   - error: ErrNotSupported for an unknown multibase prefix or multikey
//     header; ErrData when the key bytes have the wrong length. Neither
//     message echoes the observed bytes; a misconfigured secret must not
//     leak its prefix into logs.
func DecodeKey(id, secretKeyMultibase string) (*Key, error) {
	memguardInitOnce.Do(memguard.CatchInterrupt)

	if len(secretKeyMultibase) == 0 || secretKeyMultibase[0] != multibasePrefix {
		return nil, fmt.Errorf("%w: secret is not multibase-u", ErrNotSupported)
	}

	raw, err := base64.RawURLEncoding.DecodeString(secretKeyMultibase[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not base64url", ErrNotSupported)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: secret too short for a multikey header", ErrData)
	}
	if raw[0] != multikeyAES256[0] || raw[1] != multikeyAES256[1] {
		return nil, fmt.Errorf("%w: unknown multikey header", ErrNotSupported)
	}
	if len(raw)-2 != keyByteLength {
		return nil, fmt.Errorf("%w: wrong key length for multikey type", ErrData)
	}

	// NewBufferFromBytes wipes the source slice after copying.
	buf := memguard.NewBufferFromBytes(raw[2:])
	return &Key{ID: id, buf: buf}, nil
}

// bytes returns the raw HMAC key material.
func (k *Key) bytes() []byte {
	return k.buf.Bytes()
}

// Destroy wipes the key material. The Key is unusable afterwards; it
// exists for orderly shutdown and tests.
func (k *Key) Destroy() {
	if k.buf != nil {
		k.buf.Destroy()
	}
}
