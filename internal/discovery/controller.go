// Package discovery drives one swiping session: it loads the candidate pool
// for the selected pet, presents candidates one at a time and records the
// owner's decisions.
//
// Presentation advances optimistically. Decision writes run in issue order
// on a single drain goroutine; a failed write rolls presentation back to the
// failed candidate and supersedes the writes queued behind it.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pawpal/matchengine/internal/matching"
	"github.com/pawpal/matchengine/internal/pet"
	perr "github.com/pawpal/matchengine/internal/platform/errors"
	"github.com/pawpal/matchengine/internal/platform/logger"
	"github.com/pawpal/matchengine/internal/swipe"
)

// State is the position of a Controller in its session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePresenting
	StateExhausted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePresenting:
		return "presenting"
	case StateExhausted:
		return "exhausted"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrNotPresenting is returned by RecordDecision outside StatePresenting.
	ErrNotPresenting = perr.New(perr.ErrorCodeInvalidState, "discovery: no candidate is being presented")

	// ErrDecisionPending is returned for input on a candidate whose decision
	// is still being written.
	ErrDecisionPending = perr.New(perr.ErrorCodeInvalidState, "discovery: decision already pending for this candidate")

	// ErrSuperseded is returned for a queued decision dropped because an
	// earlier one failed. The candidate is presented again.
	ErrSuperseded = perr.New(perr.ErrorCodeUnavailable, "discovery: decision superseded by an earlier failure")
)

const (
	defaultDecisionTimeout = 10 * time.Second
	defaultFetchTimeout    = 10 * time.Second
)

// Recorder records one decision. matching.Recorder and matching.Client
// satisfy it.
type Recorder interface {
	Record(ctx context.Context, sourcePetID, targetPetID string, dir swipe.Direction) (matching.Result, error)
}

// Options tune a Controller. Start from DefaultOptions.
type Options struct {
	// Optimistic advances presentation before the write confirms.
	Optimistic      bool
	DecisionTimeout time.Duration
	FetchTimeout    time.Duration
}

// DefaultOptions returns optimistic presentation with 10s timeouts.
func DefaultOptions() Options {
	return Options{
		Optimistic:      true,
		DecisionTimeout: defaultDecisionTimeout,
		FetchTimeout:    defaultFetchTimeout,
	}
}

// Result is what the UI learns from one decision.
type Result struct {
	Matched        bool
	ConversationID string
}

// MatchEvent is raised when a decision completes a mutual like.
type MatchEvent struct {
	SwipingPetID   string
	CandidateID    string
	Match          swipe.Match
	ConversationID string
}

// Snapshot is a consistent view of a Controller.
type Snapshot struct {
	State        State
	Index        int
	Candidate    *pet.Pet
	SwipingPetID string
	// Err is the last fetch or write failure of the session, cleared by
	// the next success.
	Err error
}

type decisionStatus uint8

const (
	statusPending decisionStatus = iota + 1
	statusCommitted
)

type outcome struct {
	res matching.Result
	err error
}

type job struct {
	ctx       context.Context
	session   uint64
	gen       uint64
	swipingID string
	index     int
	candidate pet.Pet
	dir       swipe.Direction
	done      chan outcome
}

// Controller is the discovery queue of one swiping session. It is safe for
// concurrent use.
type Controller struct {
	pool     pet.CandidateProvider
	recorder Recorder
	opts     Options
	log      *logger.Logger

	mu         sync.Mutex
	state      State
	session    uint64 // bumped on every pool load
	gen        uint64 // bumped on every rollback; older queued jobs are dropped
	petID      string
	filters    pet.Filters
	candidates []pet.Pet
	index      int
	status     map[int]decisionStatus
	err        error

	queue    []*job
	draining bool

	pending   *MatchEvent
	listeners map[int]func(MatchEvent)
	nextLis   int
}

// NewController creates an idle Controller.
func NewController(pool pet.CandidateProvider, recorder Recorder, opts Options) *Controller {
	if opts.DecisionTimeout <= 0 {
		opts.DecisionTimeout = defaultDecisionTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	return &Controller{
		pool:      pool,
		recorder:  recorder,
		opts:      opts,
		log:       logger.Named("discovery"),
		status:    make(map[int]decisionStatus),
		listeners: make(map[int]func(MatchEvent)),
	}
}

// SelectSwipingPet starts a new session for petID and loads its candidate
// pool. It returns the fetch error, if any, after moving to StateError.
// Writes still in flight from the previous session complete but no longer
// move the position.
func (c *Controller) SelectSwipingPet(ctx context.Context, petID string, filters pet.Filters) error {
	if petID == "" {
		return perr.Validationf("pet_id", "discovery: swiping pet id is empty")
	}

	c.mu.Lock()
	c.petID = petID
	c.filters = filters
	session := c.beginLoadLocked()
	c.mu.Unlock()

	return c.load(ctx, session, petID, filters)
}

// Retry reloads the pool after a fetch failure.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateError {
		state := c.state
		c.mu.Unlock()
		return perr.Newf(perr.ErrorCodeInvalidState, "discovery: retry in state %s", state)
	}
	petID, filters := c.petID, c.filters
	session := c.beginLoadLocked()
	c.mu.Unlock()

	return c.load(ctx, session, petID, filters)
}

func (c *Controller) beginLoadLocked() uint64 {
	c.session++
	c.state = StateLoading
	c.candidates = nil
	c.index = 0
	c.status = make(map[int]decisionStatus)
	c.err = nil
	return c.session
}

func (c *Controller) load(ctx context.Context, session uint64, petID string, filters pet.Filters) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	pool, err := c.pool.FetchCandidates(ctx, petID, filters)

	c.mu.Lock()
	defer c.mu.Unlock()

	if session != c.session {
		return ErrSuperseded
	}
	if err != nil {
		if _, ok := perr.As(err); !ok {
			err = perr.Unavailable(err, "discovery: fetch candidates")
		}
		c.state = StateError
		c.err = err
		c.log.Warn().Err(err).Str("pet", petID).Msg("candidate fetch failed")
		return err
	}

	c.candidates = cleanPool(pool, petID)
	c.setIndexLocked(0)
	c.log.Debug().Str("pet", petID).Int("candidates", len(c.candidates)).Msg("pool loaded")
	return nil
}

// cleanPool drops the swiping pet and repeated candidates, keeping the first
// occurrence.
func cleanPool(pool []pet.Pet, swipingPetID string) []pet.Pet {
	seen := make(map[string]struct{}, len(pool))
	out := make([]pet.Pet, 0, len(pool))
	for _, p := range pool {
		if p.ID == swipingPetID {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (c *Controller) setIndexLocked(i int) {
	c.index = i
	if i >= len(c.candidates) {
		c.state = StateExhausted
		return
	}
	c.state = StatePresenting
}

// CurrentCandidate returns the presented candidate.
func (c *Controller) CurrentCandidate() (pet.Pet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePresenting {
		return pet.Pet{}, false
	}
	return c.candidates[c.index], true
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state,
		Index:        c.index,
		SwipingPetID: c.petID,
		Err:          c.err,
	}
	if c.state == StatePresenting {
		cand := c.candidates[c.index]
		s.Candidate = &cand
	}
	return s
}

// RecordDecision decides the presented candidate and blocks until the write
// resolves. In optimistic mode the next candidate is presented before this
// returns; a failure moves presentation back to this candidate.
func (c *Controller) RecordDecision(ctx context.Context, dir swipe.Direction) (Result, error) {
	if !dir.Valid() {
		return Result{}, perr.Validationf("direction", "discovery: unknown direction %q", dir)
	}

	c.mu.Lock()
	if c.state != StatePresenting {
		c.mu.Unlock()
		return Result{}, ErrNotPresenting
	}
	i := c.index
	if c.status[i] != 0 {
		c.mu.Unlock()
		return Result{}, ErrDecisionPending
	}
	c.status[i] = statusPending

	j := &job{
		ctx:       ctx,
		session:   c.session,
		gen:       c.gen,
		swipingID: c.petID,
		index:     i,
		candidate: c.candidates[i],
		dir:       dir,
		done:      make(chan outcome, 1),
	}
	if c.opts.Optimistic {
		c.setIndexLocked(i + 1)
	}
	c.queue = append(c.queue, j)
	if !c.draining {
		c.draining = true
		go c.drain()
	}
	c.mu.Unlock()

	out := <-j.done
	if out.err != nil {
		return Result{}, out.err
	}
	return Result{Matched: out.res.Matched(), ConversationID: out.res.ConversationID()}, nil
}

func (c *Controller) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		j := c.queue[0]
		c.queue = c.queue[1:]
		superseded := j.gen != c.gen
		c.mu.Unlock()

		if superseded {
			j.done <- outcome{err: ErrSuperseded}
			continue
		}

		res, err := c.write(j)
		c.resolve(j, res, err)
	}
}

func (c *Controller) write(j *job) (matching.Result, error) {
	if err := j.ctx.Err(); err != nil {
		return matching.Result{}, perr.Unavailable(err, "discovery: decision cancelled")
	}
	ctx, cancel := context.WithTimeout(j.ctx, c.opts.DecisionTimeout)
	defer cancel()
	return c.recorder.Record(ctx, j.swipingID, j.candidate.ID, j.dir)
}

func (c *Controller) resolve(j *job, res matching.Result, err error) {
	var (
		ev        *MatchEvent
		listeners []func(MatchEvent)
	)

	c.mu.Lock()
	current := j.session == c.session
	switch {
	case err != nil && current:
		c.gen++
		for idx, st := range c.status {
			if idx >= j.index && st == statusPending {
				delete(c.status, idx)
			}
		}
		c.setIndexLocked(j.index)
		c.err = err
		c.log.Warn().Err(err).Str("pet", j.swipingID).Str("candidate", j.candidate.ID).
			Int("index", j.index).Msg("decision failed, rolling back")
	case err != nil:
		c.log.Warn().Err(err).Str("pet", j.swipingID).Str("candidate", j.candidate.ID).
			Msg("decision from previous session failed")
	case current:
		c.status[j.index] = statusCommitted
		c.err = nil
		if !c.opts.Optimistic {
			c.setIndexLocked(j.index + 1)
		}
	}

	if err == nil && res.Matched() {
		ev = &MatchEvent{
			SwipingPetID:   j.swipingID,
			CandidateID:    j.candidate.ID,
			Match:          *res.Match,
			ConversationID: res.ConversationID(),
		}
		pending := *ev
		c.pending = &pending
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	if ev != nil {
		c.log.Info().Str("pet", ev.SwipingPetID).Str("candidate", ev.CandidateID).
			Str("conversation", ev.ConversationID).Msg("match")
		for _, fn := range listeners {
			fn(*ev)
		}
	}
	j.done <- outcome{res: res, err: err}
}

// OnMatchEvent registers fn for every future match. The returned func
// unregisters it.
func (c *Controller) OnMatchEvent(fn func(MatchEvent)) func() {
	c.mu.Lock()
	id := c.nextLis
	c.nextLis++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// TakeMatchEvent returns the latest unconsumed match event and clears it.
func (c *Controller) TakeMatchEvent() (MatchEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return MatchEvent{}, false
	}
	ev := *c.pending
	c.pending = nil
	return ev, true
}
