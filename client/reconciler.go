package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrUntracked = errors.New("record is not tracked")

// Transitioner performs a server-side stage change. *Client implements it.
type Transitioner interface {
	RecordTransition(ctx context.Context, kind Kind, id, stage string) (StageEvent, error)
}

// Revert describes a local stage change that the server did not accept.
type Revert struct {
	Kind      Kind
	ID        string
	Attempted string
	Restored  string
	Err       error
}

type ReconcilerOptions struct {
	// OnRevert runs when a failed move was on display and the view fell back
	// to the confirmed stage or to an older move still in flight.
	OnRevert func(Revert)
	// InitialInterval and MaxElapsed bound the retry of transient failures.
	// Zero values mean 100ms and 10s.
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

type entityKey struct {
	kind Kind
	id   string
}

type pendingMove struct {
	gen   uint64
	stage string
}

type entityState struct {
	// gen numbers moves in start order.
	gen          uint64
	confirmed    string
	confirmedGen uint64
	view         string
	viewGen      uint64
	pending      []pendingMove
}

// settle points the view at the newest move still in flight that started
// after the confirmed one, or at the confirmed stage when there is none.
func (st *entityState) settle() {
	for i := len(st.pending) - 1; i >= 0; i-- {
		if p := st.pending[i]; p.gen > st.confirmedGen {
			st.view, st.viewGen = p.stage, p.gen
			return
		}
	}
	st.view, st.viewGen = st.confirmed, st.confirmedGen
}

func (st *entityState) finish(gen uint64) {
	for i, p := range st.pending {
		if p.gen == gen {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			return
		}
	}
}

// StageReconciler keeps a local view of record stages that moves ahead of
// the server and falls back to the last confirmed stage when a change fails.
type StageReconciler struct {
	api  Transitioner
	opts ReconcilerOptions

	mu       sync.Mutex
	entities map[entityKey]*entityState
}

func NewStageReconciler(api Transitioner, opts ReconcilerOptions) *StageReconciler {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 10 * time.Second
	}
	return &StageReconciler{
		api:      api,
		opts:     opts,
		entities: make(map[entityKey]*entityState),
	}
}

// Track records stage as the server-confirmed stage of a record, replacing
// any local view.
func (r *StageReconciler) Track(kind Kind, id, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entities[entityKey{kind, id}]
	if !ok {
		st = &entityState{}
		r.entities[entityKey{kind, id}] = st
	}
	st.gen++
	st.confirmed, st.confirmedGen = stage, st.gen
	st.pending = nil
	st.settle()
}

// Stage returns the stage to display for a record.
func (r *StageReconciler) Stage(kind Kind, id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entities[entityKey{kind, id}]
	if !ok {
		return "", false
	}
	return st.view, true
}

// Confirmed returns the last stage the server acknowledged.
func (r *StageReconciler) Confirmed(kind Kind, id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.entities[entityKey{kind, id}]
	if !ok {
		return "", false
	}
	return st.confirmed, true
}

// Move shows stage locally right away and then records it on the server.
// Transient failures are retried. A no_op_transition answer means the
// server is already at stage, which is what happens when an earlier attempt
// committed but its response was lost, so it counts as confirmation.
//
// When a move finishes, the view shows the newest move still in flight, or
// the confirmed stage. A failed move that was on display calls OnRevert.
func (r *StageReconciler) Move(ctx context.Context, kind Kind, id, stage string) error {
	key := entityKey{kind, id}

	r.mu.Lock()
	st, ok := r.entities[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s %s", ErrUntracked, kind, id)
	}
	if st.view == stage {
		r.mu.Unlock()
		return ErrNoOpTransition
	}
	st.gen++
	gen := st.gen
	st.pending = append(st.pending, pendingMove{gen: gen, stage: stage})
	st.view, st.viewGen = stage, gen
	r.mu.Unlock()

	err := r.send(ctx, kind, id, stage)
	if errors.Is(err, ErrNoOpTransition) {
		err = nil
	}

	r.mu.Lock()
	shown := st.viewGen == gen
	st.finish(gen)
	if err == nil && gen > st.confirmedGen {
		st.confirmed, st.confirmedGen = stage, gen
	}
	st.settle()
	rev := Revert{Kind: kind, ID: id, Attempted: stage, Restored: st.view, Err: err}
	r.mu.Unlock()

	if err != nil && shown && r.opts.OnRevert != nil {
		r.opts.OnRevert(rev)
	}
	return err
}

func (r *StageReconciler) send(ctx context.Context, kind Kind, id, stage string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialInterval
	bo.MaxInterval = 4 * r.opts.InitialInterval
	bo.MaxElapsedTime = r.opts.MaxElapsed

	return backoff.Retry(func() error {
		_, err := r.api.RecordTransition(ctx, kind, id, stage)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}
