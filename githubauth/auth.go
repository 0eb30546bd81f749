/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubauth constructs authenticated GitHub clients from either a
// static token or GitHub App installation credentials.
package githubauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// NewTokenClient wraps a personal access token.
func NewTokenClient(ctx context.Context, token string) (*github.Client, error) {
	if token == "" {
		return nil, errors.New("token cannot be empty")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts)), nil
}

// NewAppClient authenticates as a GitHub App installation using a private
// key file.
func NewAppClient(appID, installationID int64, privateKeyPath string) (*github.Client, error) {
	switch {
	case appID <= 0:
		return nil, fmt.Errorf("app ID must be positive, got %d", appID)
	case installationID <= 0:
		return nil, fmt.Errorf("installation ID must be positive, got %d", installationID)
	case privateKeyPath == "":
		return nil, errors.New("private key path cannot be empty")
	}
	itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: itr}), nil
}
