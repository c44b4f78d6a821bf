// Package decider turns a feature vector and account narrative into an
// underwriting judgment using a hosted language model.
//
// The model is advisory: its output is parsed leniently, coerced to an
// explicit Error judgment when unusable, and overridden by hard guardrails
// that no model response can relax.
package decider

import "context"

// Client is the minimal completion surface a provider must offer.
type Client interface {
	// Complete sends one system+user exchange and returns the raw text of
	// the model's reply.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config configures a model client.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}
