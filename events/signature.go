/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/go-github/v75/github"
)

// AuthenticationError indicates a missing or invalid event signature.
// Boundary code rejects these before any state transition happens.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("event authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Sign computes the X-Hub-Signature-256 header value for body. The poller
// uses this to make synthetic events indistinguishable from webhook
// deliveries.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body using a constant-time comparison.
// An empty signature is rejected outright.
func Verify(signature string, body, secret []byte) error {
	if signature == "" {
		return &AuthenticationError{Err: errors.New("missing signature header")}
	}
	if err := github.ValidateSignature(signature, body, secret); err != nil {
		return &AuthenticationError{Err: err}
	}
	return nil
}
