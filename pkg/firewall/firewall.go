package firewall

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TryMightyAI/aegis/pkg/audit"
)

// Request is one text evaluation. Cancellation arrives through the context
// passed to Evaluate.
type Request struct {
	Text string `json:"text"`

	// TokenFormat overrides the firewall's configured placeholder format
	// for this request. Empty keeps the default.
	TokenFormat TokenFormat `json:"tokenFormat,omitempty"`
}

// Verdict is the per-request outcome. On DENY no output text is produced
// and OutputText is empty.
type Verdict struct {
	RequestID        string      `json:"requestId"`
	Action           Action      `json:"action"`
	DenyingPolicyID  string      `json:"denyingPolicyId,omitempty"`
	OutputText       string      `json:"outputText,omitempty"`
	Detections       []Detection `json:"detections"`
	AppliedPolicyIDs []string    `json:"appliedPolicyIds"`
}

// Options configures a Firewall. Catalog, policies, and the secret key are
// process-wide and read-only after New returns; requests share them without
// locking.
type Options struct {
	// SecretKey keys the tokenizer's hash. Required, non-empty.
	SecretKey []byte

	// DefaultConfidenceThreshold gates spans whose label no policy
	// references, and stands in for any referencing policy that sets no
	// min_confidence. Zero selects 0.5.
	DefaultConfidenceThreshold float64

	// ThrowOnDeny makes Evaluate return a *DeniedError instead of a DENY
	// verdict.
	ThrowOnDeny bool

	// TokenFormat is the default placeholder rendering. Empty selects
	// bracket format.
	TokenFormat TokenFormat

	// ExtractorTimeout bounds the oracle call. Zero selects 5 seconds.
	ExtractorTimeout time.Duration

	// MaskedValuesExempt, when set, leaves detections whose surface is
	// already masked (e.g. 4532-****-****-3456) untokenized. The default
	// treats a masked form as a distinct surface with its own token.
	MaskedValuesExempt bool

	// PublicRecordMarkers overrides the publicRecord guard's sentence
	// markers. Nil keeps the defaults.
	PublicRecordMarkers []string

	// Extractor is the external entity oracle. Nil disables the oracle
	// path; regex detection still runs.
	Extractor Extractor

	// ExampleSelector narrows oracle-prompt examples by similarity.
	// Nil includes the static example lists.
	ExampleSelector *ExampleSelector

	// AuditSink receives one append-only record per request. Nil disables
	// auditing. Records never contain text or surfaces.
	AuditSink audit.Sink

	Logger *zap.Logger
}

// Firewall drives the pipeline: normalize → segment → detect → resolve →
// bind → evaluate policies → tokenize → rewrite. Safe for concurrent use;
// each request's state is request-local.
type Firewall struct {
	catalog  *Catalog
	policies *PolicySet
	opts     Options
	logger   *zap.Logger
}

const defaultExtractorTimeout = 5 * time.Second

// New validates the options and creates a Firewall.
func New(catalog *Catalog, policies *PolicySet, opts Options) (*Firewall, error) {
	if len(opts.SecretKey) == 0 {
		return nil, &ConfigError{Err: errSecretKeyRequired}
	}
	if opts.DefaultConfidenceThreshold == 0 {
		opts.DefaultConfidenceThreshold = 0.5
	}
	if opts.TokenFormat == "" {
		opts.TokenFormat = FormatBracket
	}
	if opts.ExtractorTimeout <= 0 {
		opts.ExtractorTimeout = defaultExtractorTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Firewall{
		catalog:  catalog,
		policies: policies,
		opts:     opts,
		logger:   logger,
	}, nil
}

// maskedRun matches masking runs inside already-redacted values.
var maskedRun = regexp.MustCompile(`\*{2,}|•{2,}|[xX]{4,}`)

// Evaluate runs the pipeline over one request. Internal failures never leak
// plaintext: every unexpected condition produces a DENY verdict.
func (f *Firewall) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	requestID := uuid.NewString()

	verdict, err := f.evaluate(ctx, requestID, req)
	if err != nil {
		return nil, err
	}

	f.emitAudit(ctx, verdict)

	if verdict.Action == ActionDeny && f.opts.ThrowOnDeny {
		return nil, &DeniedError{PolicyID: verdict.DenyingPolicyID}
	}
	return verdict, nil
}

func (f *Firewall) evaluate(ctx context.Context, requestID string, req Request) (v *Verdict, err error) {
	// Fail closed: a panic anywhere in the pipeline becomes a DENY, never
	// an escape of partially processed text.
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("pipeline panic", zap.String("request_id", requestID), zap.Any("panic", r))
			v = f.deny(requestID, PolicyIDInternalError, nil, nil)
			err = nil
		}
	}()

	if cancelled(ctx) {
		return f.deny(requestID, PolicyIDCancelled, nil, nil), nil
	}
	nt := Normalize(req.Text)
	segments := Segment(nt)

	if cancelled(ctx) {
		return f.deny(requestID, PolicyIDCancelled, nil, nil), nil
	}
	detector := NewDetector(f.catalog, f.opts.Extractor, f.opts.ExampleSelector, f.logger)
	extractCtx, cancel := context.WithTimeout(ctx, f.opts.ExtractorTimeout)
	spans, detectErr := detector.Detect(extractCtx, nt)
	cancel()
	if detectErr != nil {
		// Oracle failure is fail-closed: deny with the synthetic id.
		return f.deny(requestID, classifyExtractorErr(detectErr), nil, nil), nil
	}

	if cancelled(ctx) {
		return f.deny(requestID, PolicyIDCancelled, nil, nil), nil
	}
	resolver := NewResolver(f.policies, f.opts.DefaultConfidenceThreshold)
	resolved := resolver.Resolve(spans, findPlaceholders(nt))

	// The arena owns every detection for this request; predicates refer to
	// their bound subjects by index.
	arena := make([]Detection, len(resolved))
	for i, s := range resolved {
		arena[i] = Detection{Span: s}
	}

	if cancelled(ctx) {
		return f.deny(requestID, PolicyIDCancelled, nil, nil), nil
	}
	NewBinder(f.policies, segments).Bind(arena)

	guards := newGuardEvaluator(nt, segments, f.opts.PublicRecordMarkers)
	result := NewEngine(f.policies, guards).Evaluate(arena)

	if result.Deny {
		return f.deny(requestID, result.DenyingPolicyID, arena, result.AppliedPolicyIDs), nil
	}

	if f.opts.MaskedValuesExempt {
		for i := range arena {
			if arena[i].tokenize && maskedRun.MatchString(arena[i].Surface) {
				arena[i].tokenize = false
			}
		}
	}

	if cancelled(ctx) {
		return f.deny(requestID, PolicyIDCancelled, nil, nil), nil
	}
	format := f.opts.TokenFormat
	if req.TokenFormat != "" {
		format = req.TokenFormat
	}
	tok := NewTokenizer(f.opts.SecretKey, format)
	output, rwErr := NewRewriter(nt, tok).Rewrite(arena)
	if rwErr != nil {
		f.logger.Warn("rewrite failed", zap.String("request_id", requestID), zap.Error(rwErr))
		return f.deny(requestID, PolicyIDRewriteViolation, arena, result.AppliedPolicyIDs), nil
	}

	action := ActionAllow
	for i := range arena {
		if arena[i].tokenize {
			action = ActionTokenize
			break
		}
	}

	return &Verdict{
		RequestID:        requestID,
		Action:           action,
		OutputText:       output,
		Detections:       arena,
		AppliedPolicyIDs: result.AppliedPolicyIDs,
	}, nil
}

// deny builds a fail-closed verdict. OutputText stays empty so no partial
// rewrite can leak.
func (f *Firewall) deny(requestID, policyID string, arena []Detection, applied []string) *Verdict {
	return &Verdict{
		RequestID:        requestID,
		Action:           ActionDeny,
		DenyingPolicyID:  policyID,
		Detections:       arena,
		AppliedPolicyIDs: applied,
	}
}

// emitAudit writes the append-only audit record: request id, action, policy
// ids, and the detection count. Never the text, never the surfaces.
func (f *Firewall) emitAudit(ctx context.Context, v *Verdict) {
	if f.opts.AuditSink == nil {
		return
	}
	rec := audit.Record{
		RequestID:        v.RequestID,
		Action:           string(v.Action),
		AppliedPolicyIDs: v.AppliedPolicyIDs,
		DetectionCount:   len(v.Detections),
		Timestamp:        time.Now().UTC(),
	}
	if err := f.opts.AuditSink.Emit(ctx, rec); err != nil {
		f.logger.Warn("audit emit failed", zap.String("request_id", v.RequestID), zap.Error(err))
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
