package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"shelftamer/internal/llm"
	"shelftamer/internal/logging"
	"shelftamer/internal/services"
)

// ExcerptLimit is the number of characters of extracted text offered to the
// models. Front matter carries the signal; the rest is cost.
const ExcerptLimit = 8000

const (
	transportAttempts = 4
	parseAttempts     = 3
	retryBaseDelay    = 2 * time.Second
	retryMaxDelay     = 30 * time.Second
)

// Enricher derives metadata and a subject classification from book text.
// Both calls degrade to explicit unknown values instead of failing the book.
type Enricher struct {
	client              *llm.Client
	metadataModel       string
	classificationModel string
	baseDelay           time.Duration
	maxDelay            time.Duration
	logger              *slog.Logger
}

// Option adjusts Enricher construction.
type Option func(*Enricher)

// WithRetryDelays overrides the backoff window. Used by tests.
func WithRetryDelays(base, max time.Duration) Option {
	return func(e *Enricher) {
		e.baseDelay = base
		e.maxDelay = max
	}
}

// NewEnricher constructs an Enricher bound to the given models.
func NewEnricher(client *llm.Client, metadataModel, classificationModel string, logger *slog.Logger, opts ...Option) *Enricher {
	enricher := &Enricher{
		client:              client,
		metadataModel:       metadataModel,
		classificationModel: classificationModel,
		baseDelay:           retryBaseDelay,
		maxDelay:            retryMaxDelay,
		logger:              logging.NewComponentLogger(logger, "enricher"),
	}
	for _, opt := range opts {
		opt(enricher)
	}
	return enricher
}

// InferMetadata asks the metadata model to describe the excerpt. The
// returned bool reports whether the result is degraded. Only context
// cancellation is returned as an error.
func (e *Enricher) InferMetadata(ctx context.Context, excerpt string) (Metadata, bool, error) {
	if excerpt == "" {
		return UnknownMetadata(), true, nil
	}
	var meta Metadata
	err := e.completeJSON(ctx, e.metadataModel, metadataSystemPrompt, metadataUserPrompt(excerpt), &meta)
	if err != nil {
		if isCancellation(err) {
			return UnknownMetadata(), true, err
		}
		logging.WithContext(ctx, e.logger).Warn("metadata enrichment degraded",
			logging.String(logging.FieldEventType, "enrich_degraded"),
			logging.Error(err))
		return UnknownMetadata(), true, nil
	}
	return meta.Normalize(), false, nil
}

// Classify asks the classification model to pick a subject label, offering
// the library's existing category labels for reuse. Degrades to Unclassified.
func (e *Enricher) Classify(ctx context.Context, excerpt string, existingLabels []string) (Classification, bool, error) {
	if excerpt == "" {
		return Unclassified(), true, nil
	}
	var class Classification
	err := e.completeJSON(ctx, e.classificationModel,
		classificationSystemPrompt(existingLabels), classificationUserPrompt(excerpt), &class)
	if err != nil {
		if isCancellation(err) {
			return Unclassified(), true, err
		}
		logging.WithContext(ctx, e.logger).Warn("classification degraded",
			logging.String(logging.FieldEventType, "classify_degraded"),
			logging.Error(err))
		return Unclassified(), true, nil
	}
	class = class.Normalize()
	if class.Label == UnclassifiedLabel {
		return class, true, nil
	}
	return class, false, nil
}

// completeJSON invokes the model and decodes its JSON answer, retrying
// transport failures and malformed replies under separate bounded policies.
func (e *Enricher) completeJSON(ctx context.Context, model, system, user string, target any) error {
	attempts := uint(transportAttempts)
	if e.client.Suspended() {
		// The endpoint is already known to be down; one probe is enough.
		attempts = 1
	}

	parseBudget := parseAttempts
	return retry.Do(
		func() error {
			content, err := e.client.Invoke(ctx, model, system, user)
			if err != nil {
				return err
			}
			if err := llm.DecodeJSON(content, target); err != nil {
				return services.Wrap(services.ErrInvalidResponse, "enrich", "decode", "", err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(e.baseDelay),
		retry.MaxDelay(e.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if isCancellation(err) {
				return false
			}
			if errors.Is(err, services.ErrInvalidResponse) {
				parseBudget--
				return parseBudget > 0
			}
			return errors.Is(err, services.ErrModelUnavailable)
		}),
	)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
