package firewall

import (
	"errors"
	"fmt"
)

var errSecretKeyRequired = errors.New("secret key is required")

// ConfigError reports a malformed catalog, policy set, or firewall
// configuration. Detected at load time and fatal to process start.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExtractorError reports an oracle failure: unreachable, timed out, or
// ill-formed output. The orchestrator converts it into a fail-closed DENY.
type ExtractorError struct {
	// PolicyID is the synthetic id recorded on the denial:
	// extractor_timeout or extractor_malformed.
	PolicyID string
	Err      error
}

func (e *ExtractorError) Error() string {
	return fmt.Sprintf("extractor (%s): %v", e.PolicyID, e.Err)
}

func (e *ExtractorError) Unwrap() error {
	return e.Err
}

// RewriteViolationError reports a failed post-rewrite invariant: a literal
// from the allow-unchanged set changed its occurrence count. Escalates to
// DENY with the rewrite_violation policy id.
type RewriteViolationError struct {
	Literal string
	Want    int
	Got     int
}

func (e *RewriteViolationError) Error() string {
	return fmt.Sprintf("rewrite violation: literal occurs %d time(s), want %d", e.Got, e.Want)
}

// DeniedError is returned to callers that requested throw-on-deny. It
// carries the denying policy id and a generic message — never the offending
// spans.
type DeniedError struct {
	PolicyID string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("content policy violation (policy %s)", e.PolicyID)
}
