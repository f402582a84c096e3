package matching

import (
	"context"
	"time"

	"github.com/pawpal/matchengine/internal/conversation"
	"github.com/pawpal/matchengine/internal/metrics"
	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/pawpal/matchengine/internal/swipe"
)

// Recorder persists decisions and runs match detection on likes.
type Recorder struct {
	store    swipe.Store
	detector *Detector
	// per source pet; keeps one pet's writes in call order within the process
	locks conversation.Locker
	log   *logger.Logger
	now   func() time.Time
}

// NewRecorder creates a Recorder writing to store. A nil detector disables
// match detection.
func NewRecorder(store swipe.Store, detector *Detector) *Recorder {
	return &Recorder{
		store:    store,
		detector: detector,
		locks:    conversation.NewLocalLocker(),
		log:      logger.Named("matcher"),
		now:      time.Now,
	}
}

// Record stores sourcePetID's decision on targetPetID, replacing any earlier
// one. A like that completes a mutual like returns the match in the Result.
//
// Invalid input returns a validation error before any write. Store failures
// are retryable; the upsert and detection are idempotent.
func (r *Recorder) Record(ctx context.Context, sourcePetID, targetPetID string, dir swipe.Direction) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.DecisionLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.DecisionErrorsTotal.WithLabelValues(perr.CodeOf(err).String()).Inc()
		}
	}()

	if err := validateDecision(sourcePetID, targetPetID, dir); err != nil {
		return Result{}, err
	}

	unlock, err := r.locks.Lock(ctx, sourcePetID)
	if err != nil {
		return Result{}, perr.Unavailable(err, "matching: wait for pending decision")
	}
	defer unlock()

	d := swipe.Decision{
		SourcePetID: sourcePetID,
		TargetPetID: targetPetID,
		Direction:   dir,
		Timestamp:   r.now().UTC(),
	}
	if err := r.store.UpsertDecision(ctx, d); err != nil {
		r.log.Error().Err(err).Str("source", sourcePetID).Str("target", targetPetID).Msg("decision write failed")
		return Result{}, perr.Unavailable(err, "matching: record decision")
	}
	metrics.DecisionsTotal.WithLabelValues(string(dir)).Inc()

	res = Result{Decision: d}
	if dir != swipe.Like || r.detector == nil {
		return res, nil
	}

	m, err := r.detector.CheckAndCreateMatch(ctx, sourcePetID, targetPetID)
	if err != nil {
		r.log.Error().Err(err).Str("source", sourcePetID).Str("target", targetPetID).Msg("match detection failed")
		return res, err
	}
	res.Match = m
	return res, nil
}

func validateDecision(sourcePetID, targetPetID string, dir swipe.Direction) error {
	switch {
	case sourcePetID == "":
		return perr.Validationf("source_pet_id", "matching: source pet id is empty")
	case targetPetID == "":
		return perr.Validationf("target_pet_id", "matching: target pet id is empty")
	case sourcePetID == targetPetID:
		return perr.Validationf("target_pet_id", "matching: pet %s cannot swipe on itself", sourcePetID)
	case !dir.Valid():
		return perr.Validationf("direction", "matching: unknown direction %q", dir)
	}
	return nil
}
