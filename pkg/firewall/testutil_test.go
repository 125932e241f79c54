package firewall

import (
	"context"
	"errors"
)

// stubExtractor returns canned candidates, simulating the oracle.
type stubExtractor struct {
	candidates []Candidate
	err        error
}

func (s *stubExtractor) Extract(_ context.Context, _, _ string) ([]Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

// blockingExtractor waits for the context to expire, simulating a hung
// oracle.
type blockingExtractor struct{}

func (blockingExtractor) Extract(ctx context.Context, _, _ string) ([]Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func asConfigError(err error, target **ConfigError) bool {
	return errors.As(err, target)
}

func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}

func floatPtr(f float64) *float64 {
	return &f
}

// subj builds an oracle subject candidate.
func subj(label, surface string, conf float64) Candidate {
	return Candidate{Kind: KindSubject, Label: label, Surface: surface, Confidence: conf}
}

// pred builds an oracle predicate candidate.
func pred(label, surface string, conf float64) Candidate {
	return Candidate{Kind: KindPredicate, Label: label, Surface: surface, Confidence: conf}
}

// mustPolicies validates a policy list against the default catalog.
func mustPolicies(policies ...Policy) *PolicySet {
	ps, err := NewPolicySet(policies, DefaultCatalog())
	if err != nil {
		panic(err)
	}
	return ps
}

// newTestFirewall wires a firewall over the default catalog with a fixed
// secret key.
func newTestFirewall(ps *PolicySet, extractor Extractor, mutate func(*Options)) *Firewall {
	opts := Options{
		SecretKey: []byte("unit-test-secret"),
		Extractor: extractor,
	}
	if mutate != nil {
		mutate(&opts)
	}
	fw, err := New(DefaultCatalog(), ps, opts)
	if err != nil {
		panic(err)
	}
	return fw
}
