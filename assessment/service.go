package assessment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"cyclescreen/ml"
	"cyclescreen/monitoring"
	"cyclescreen/policy"
)

const DefaultCacheSize = 1024

var ErrNotReady = errors.New("classifier artifacts are not loaded")

// Recorder persists finished assessments.
type Recorder interface {
	Record(ctx context.Context, a *Assessment) error
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, a *Assessment) error

func (f RecorderFunc) Record(ctx context.Context, a *Assessment) error {
	return f(ctx, a)
}

// Publisher pushes live events to subscribers.
type Publisher interface {
	Publish(msgType monitoring.MessageType, data interface{}) error
}

type Options struct {
	Policy    policy.Policy
	CacheSize int
	Logger    *zap.Logger
	Recorder  Recorder
	Publisher Publisher
	Metrics   *monitoring.Metrics
	Now       func() time.Time
}

type Service struct {
	registry  *ml.Registry
	policy    policy.Policy
	cache     *lru.Cache[string, ml.Result]
	logger    *zap.Logger
	recorder  Recorder
	publisher Publisher
	metrics   *monitoring.Metrics
	now       func() time.Time
}

func NewService(registry *ml.Registry, opts Options) (*Service, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.Policy.Variant == "" {
		opts.Policy = policy.Default()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, ml.Result](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		registry:  registry,
		policy:    opts.Policy,
		cache:     cache,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}, nil
}

func (s *Service) Policy() policy.Policy {
	return s.policy
}

// Assess validates every condition block, then scores, decides and renders.
// No classifier runs unless the whole request is valid.
func (s *Service) Assess(ctx context.Context, req Request) (*Assessment, error) {
	start := s.now()
	if err := req.Validate(); err != nil {
		return nil, s.requestError(err)
	}
	bundles, generation := s.registry.Snapshot()
	if len(bundles) != 2 {
		return nil, fmt.Errorf("%w: expected 2 conditions, have %d", ErrNotReady, len(bundles))
	}

	verr := &ml.ValidationError{}
	vectors := make([]ml.Vector, len(bundles))
	known := make(map[string]bool, len(bundles))
	for i, b := range bundles {
		known[b.Key] = true
		answers, ok := req.Answers[b.Key]
		if !ok {
			verr.Add(ml.FieldError{
				Condition: b.Key,
				Reason:    ml.ReasonMissing,
				Message:   "answers are missing",
			})
			continue
		}
		vec, err := b.Schema.Build(answers)
		if err != nil {
			var fieldErrs *ml.ValidationError
			if !errors.As(err, &fieldErrs) {
				return nil, err
			}
			verr.Errors = append(verr.Errors, fieldErrs.Errors...)
			continue
		}
		vectors[i] = vec
	}
	for key := range req.Answers {
		if !known[key] {
			verr.Add(ml.FieldError{
				Condition: key,
				Reason:    ml.ReasonUnknown,
				Message:   "unknown condition",
			})
		}
	}
	if len(verr.Errors) > 0 {
		for _, fe := range verr.Errors {
			s.metrics.ObserveValidationFailure(fe.Condition, fe.Reason)
		}
		return nil, verr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]ConditionResult, len(bundles))
	for i, b := range bundles {
		res, err := s.score(b, generation, vectors[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Key, err)
		}
		results[i] = ConditionResult{
			Key:         b.Key,
			Name:        b.Name,
			Label:       res.Label,
			Probability: res.Probability,
		}
	}

	category, err := s.policy.Decide(results[0].Probability, results[1].Probability)
	if err != nil {
		return nil, err
	}

	a := &Assessment{
		ID:        uuid.NewString(),
		CreatedAt: start.UTC(),
		Results:   results,
		Variant:   s.policy.Variant,
		Category:  category,
	}
	render(a, MatchLanguage(req.Language))

	s.deliver(ctx, a)

	for _, r := range results {
		s.metrics.ObserveProbability(r.Key, r.Probability)
	}
	s.metrics.ObserveAssessment(string(a.Variant), string(a.Category), s.now().Sub(start))
	s.logger.Debug("assessment completed",
		zap.String("id", a.ID),
		zap.String("category", string(a.Category)),
		zap.Uint64("generation", generation))
	return a, nil
}

func (s *Service) score(b *ml.Bundle, generation uint64, vec ml.Vector) (ml.Result, error) {
	key := b.Key + "|" + strconv.FormatUint(generation, 10) + "|" + vec.Key()
	if res, ok := s.cache.Get(key); ok {
		s.metrics.ObserveCache(true)
		return res, nil
	}
	s.metrics.ObserveCache(false)
	res, err := ml.Score(b.Classifier, vec.Values)
	if err != nil {
		return ml.Result{}, err
	}
	s.cache.Add(key, res)
	return res, nil
}

func (s *Service) deliver(ctx context.Context, a *Assessment) {
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, a); err != nil {
			s.metrics.ObserveRecordFailure()
			s.logger.Error("failed to record assessment", zap.String("id", a.ID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(monitoring.AssessmentEvent, a.Event()); err != nil {
			s.logger.Warn("failed to publish assessment", zap.String("id", a.ID), zap.Error(err))
		}
	}
}

func (s *Service) requestError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ml.ValidationError{}
	for _, fe := range verrs {
		reason := ml.ReasonMissing
		if fe.Tag() != "required" {
			reason = "invalid"
		}
		out.Add(ml.FieldError{
			Condition: "request",
			Field:     fe.Field(),
			Reason:    reason,
			Message:   fmt.Sprintf("failed %q check", fe.Tag()),
		})
		s.metrics.ObserveValidationFailure("request", reason)
	}
	return out
}
