/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package collaborator adapts a reasoning service into a strict contract:
// given an issue's context, produce a validated ChangeSet or a typed error.
//
// Two backends are provided, mirroring the rest of our agent stack: Claude
// via the Anthropic SDK (Vertex AI auth in production) and Gemini via the
// Google GenAI SDK. Both constrain the model to a JSON schema derived from
// the ChangeSet type, extract the JSON from the response text, and run the
// same structural validation. Validation is all-or-nothing; a partial
// ChangeSet is never returned.
//
// The adapter performs no retries. Transport and timeout failures surface
// as *UnavailableError, schema and validation failures as
// *InvalidSolutionError, and the processor decides what either means for
// the issue's retry budget.
package collaborator
