package matching

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/nats-io/nats.go"
	"github.com/pawpal/matchengine/internal/metrics"
	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/pawpal/matchengine/internal/ratelimit"
	"github.com/pawpal/matchengine/internal/swipe"
)

const defaultRequestTimeout = 5 * time.Second

// RecordRequest is the NATS payload on swipe.record.
type RecordRequest struct {
	SourcePetID string `json:"source_pet_id" validate:"required"`
	TargetPetID string `json:"target_pet_id" validate:"required,nefield=SourcePetID"`
	Direction   string `json:"direction" validate:"required,oneof=like pass"`
}

// RecordReply answers a RecordRequest. Error is set instead of the outcome
// fields when the decision was not recorded or detection failed.
// RateRemaining is the source pet's quota left in the current window; it is
// absent when throttling is off or the limiter could not be read.
type RecordReply struct {
	Matched        bool         `json:"matched"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Match          *swipe.Match `json:"match,omitempty"`
	DecidedAt      time.Time    `json:"decided_at,omitzero"`
	RateRemaining  *int         `json:"rate_remaining,omitempty"`
	Error          *perr.Wire   `json:"error,omitempty"`
}

// DecisionRecorder records one decision. Recorder and Client satisfy it.
type DecisionRecorder interface {
	Record(ctx context.Context, sourcePetID, targetPetID string, dir swipe.Direction) (Result, error)
}

// RateLimiter throttles requests per identifier. ratelimit.Limiter
// satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// RequestSubscriber is the NATS side of Service.
// messaging.NATSClient satisfies it.
type RequestSubscriber interface {
	SubscribeSwipeRecord(handler func(msg *nats.Msg)) error
}

// ServiceConfig tunes a Service. Zero values take defaults.
type ServiceConfig struct {
	Rule           ratelimit.Rule
	RequestTimeout time.Duration
}

// Service answers swipe.record requests with the Recorder.
type Service struct {
	recorder DecisionRecorder
	limiter  RateLimiter
	rule     ratelimit.Rule
	timeout  time.Duration

	validate *validator.Validate
	trans    ut.Translator

	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
}

// NewService creates a Service. limiter may be nil to disable throttling.
func NewService(recorder DecisionRecorder, limiter RateLimiter, cfg ServiceConfig) *Service {
	if cfg.Rule.Key == "" {
		cfg.Rule = ratelimit.RuleSwipe
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	enLoc := en.New()
	uni := ut.New(enLoc, enLoc)
	trans, _ := uni.GetTranslator("en")

	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names in field errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		recorder: recorder,
		limiter:  limiter,
		rule:     cfg.Rule,
		timeout:  cfg.RequestTimeout,
		validate: v,
		trans:    trans,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.Named("matcher"),
	}
}

// Start subscribes to swipe.record in the matcher queue group.
func (s *Service) Start(sub RequestSubscriber) error {
	if err := sub.SubscribeSwipeRecord(s.handleMsg); err != nil {
		return err
	}
	s.log.Info().Msg("service started")
	return nil
}

// Stop cancels in-flight requests.
func (s *Service) Stop() {
	s.cancel()
	s.log.Info().Msg("service stopped")
}

func (s *Service) handleMsg(msg *nats.Msg) {
	reply := s.Handle(s.ctx, msg.Data)
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn().Err(err).Msg("respond")
	}
}

// Handle decodes, validates, throttles and records one request.
func (s *Service) Handle(ctx context.Context, data []byte) RecordReply {
	var req RecordRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(perr.Validationf("", "matching: invalid request: %v", err))
	}
	if err := s.validateRequest(req); err != nil {
		return errorReply(err)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, req.SourcePetID, s.rule)
		if err != nil {
			s.log.Warn().Err(err).Str("source", req.SourcePetID).Msg("rate limiter unavailable, allowing")
		}
		if !allowed {
			metrics.RateLimitedTotal.Inc()
			reply := errorReply(perr.Newf(perr.ErrorCodeTooManyRequests,
				"matching: pet %s is swiping too fast", req.SourcePetID))
			reply.RateRemaining = s.remaining(ctx, req.SourcePetID)
			return reply
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.recorder.Record(ctx, req.SourcePetID, req.TargetPetID, swipe.Direction(req.Direction))
	if err != nil {
		return errorReply(err)
	}
	return RecordReply{
		Matched:        res.Matched(),
		ConversationID: res.ConversationID(),
		Match:          res.Match,
		DecidedAt:      res.Decision.Timestamp,
		RateRemaining:  s.remaining(ctx, req.SourcePetID),
	}
}

func (s *Service) remaining(ctx context.Context, sourcePetID string) *int {
	if s.limiter == nil {
		return nil
	}
	n, err := s.limiter.Remaining(ctx, sourcePetID, s.rule)
	if err != nil {
		return nil
	}
	return &n
}

func (s *Service) validateRequest(req RecordRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return perr.Validationf(fe.Field(), "matching: %s", fe.Translate(s.trans))
	}
	return perr.Validationf("", "matching: %v", err)
}

func errorReply(err error) RecordReply {
	return RecordReply{Error: perr.WireFrom(err)}
}
