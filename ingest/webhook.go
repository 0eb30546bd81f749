/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"chainguard.dev/issuesmith/events"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
)

// maxEventBytes bounds webhook bodies; GitHub caps payloads at 25 MB.
const maxEventBytes = 25 << 20

// Dispatcher consumes accepted trigger events. Its own guards make
// duplicate dispatch safe, which is what lets the receiver fire and
// forget.
type Dispatcher interface {
	Process(ctx context.Context, ev *github.IssuesEvent) error
}

// Receiver is the single webhook-receiving endpoint.
type Receiver struct {
	secret     []byte
	dispatcher Dispatcher
}

var _ http.Handler = (*Receiver)(nil)

// NewReceiver creates the webhook handler.
func NewReceiver(secret []byte, dispatcher Dispatcher) (*Receiver, error) {
	if len(secret) == 0 {
		return nil, errors.New("webhook secret cannot be empty")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	return &Receiver{secret: secret, dispatcher: dispatcher}, nil
}

// ServeHTTP implements http.Handler.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	// Authentication first: nothing about an unverified payload is
	// trusted, including its event type.
	if err := events.Verify(r.Header.Get(github.SHA256SignatureHeader), body, rc.secret); err != nil {
		log.With("error", err).Warn("Rejecting event with bad signature")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	if category := r.Header.Get(github.EventTypeHeader); category != events.Category {
		log.With("category", category).Debug("Ignoring event category")
		fmt.Fprintf(w, "ignored: event category %q\n", category)
		return
	}

	ev := &github.IssuesEvent{}
	if err := json.Unmarshal(body, ev); err != nil {
		log.With("error", err).Warn("Rejecting malformed issues event")
		http.Error(w, "invalid trigger event", http.StatusBadRequest)
		return
	}
	key, err := events.Key(ev)
	if err != nil {
		log.With("error", err).Warn("Rejecting issues event with incomplete key")
		http.Error(w, "invalid trigger event", http.StatusBadRequest)
		return
	}

	if action := ev.GetAction(); action != events.ActionOpened {
		log.With("action", action).Debug("Ignoring event action")
		fmt.Fprintf(w, "ignored: action %q\n", action)
		return
	}

	// Fire and forget: the response must not wait for the pipeline. The
	// dispatch context is detached so closing the request doesn't cancel
	// the attempt mid-flight.
	dctx := clog.WithLogger(context.WithoutCancel(ctx), log)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				clog.FromContext(dctx).With("panic", p).Error("Dispatch panicked")
			}
		}()
		if err := rc.dispatcher.Process(dctx, ev); err != nil {
			clog.FromContext(dctx).With("issue", key.String()).With("error", err).Error("Processing trigger failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "accepted: %s\n", key)
}
