package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~jakintosh/inventory/pkg/credential"
	"go.uber.org/zap"
)

const (
	DefaultReadyTimeout = 30 * time.Second
	DefaultErrorPath    = "/auth/error"
	DefaultDeniedPath   = "/auth/access"
)

// Authority answers the guard's questions about the operator's session.
// *credential.Client satisfies it.
type Authority interface {
	Ready() <-chan struct{}
	Phase() credential.Phase
	Authenticated() bool
	LoginURL(returnPath string) (string, error)
}

type Options struct {
	Policy       Policy
	ReadyTimeout time.Duration
	ErrorPath    string
	DeniedPath   string
	Logger       *zap.Logger
}

// Outcome is the terminal state of one navigation.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
	Abandon
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Abandon:
		return "abandon"
	default:
		return "unknown"
	}
}

type Decision struct {
	Outcome  Outcome
	Location string
	Reason   string
}

// Navigation is one attempt by a navigator (a browser) to reach a route.
// Target is where a successful login should resume.
type Navigation struct {
	Navigator string
	Route     Route
	Target    string
}

type ticket struct {
	navigator  string
	seq        uint64
	superseded chan struct{}
}

func (t *ticket) isSuperseded() bool {
	select {
	case <-t.superseded:
		return true
	default:
		return false
	}
}

type Guard struct {
	authority Authority
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]*ticket
}

func New(authority Authority, opts Options) *Guard {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.ErrorPath == "" {
		opts.ErrorPath = DefaultErrorPath
	}
	if opts.DeniedPath == "" {
		opts.DeniedPath = DefaultDeniedPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		authority: authority,
		opts:      opts,
		logger:    logger.Named("guard"),
		pending:   make(map[string]*ticket),
	}
}

// Policy is the configured failure policy.
func (g *Guard) Policy() Policy {
	return g.opts.Policy
}

// Pending counts navigations that have not been decided yet.
func (g *Guard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// register makes nav the navigator's current navigation, superseding any
// earlier one still waiting.
func (g *Guard) register(navigator string) *ticket {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	t := &ticket{
		navigator:  navigator,
		seq:        g.seq,
		superseded: make(chan struct{}),
	}
	if previous, ok := g.pending[navigator]; ok {
		close(previous.superseded)
	}
	g.pending[navigator] = t
	return t
}

func (g *Guard) release(t *ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.pending[t.navigator]; ok && current == t {
		delete(g.pending, t.navigator)
	}
}

// Evaluate decides one navigation. It blocks until the authority is
// ready, ReadyTimeout passes, ctx ends, or a newer navigation from the same
// navigator supersedes this one.
func (g *Guard) Evaluate(ctx context.Context, nav Navigation) (decision Decision) {
	t := g.register(nav.Navigator)
	defer g.release(t)

	log := g.logger.With(
		zap.String("route", nav.Route.Name),
		zap.String("navigator", nav.Navigator),
		zap.Uint64("seq", t.seq))
	defer func() {
		if r := recover(); r != nil {
			decision = g.fault(log, fmt.Errorf("panic: %v", r))
		}
		log.Debug("navigation decided",
			zap.Stringer("outcome", decision.Outcome),
			zap.String("reason", decision.Reason))
	}()

	if !nav.Route.RequiresAuth {
		return Decision{Outcome: Allow, Reason: "public route"}
	}

	timedOut, abandoned := g.awaitReady(ctx, t)
	if abandoned != "" {
		return Decision{Outcome: Abandon, Reason: abandoned}
	}
	if timedOut {
		log.Warn("credential client not ready in time; treating as failed",
			zap.Duration("timeout", g.opts.ReadyTimeout))
		return Decision{Outcome: Redirect, Location: g.opts.ErrorPath, Reason: "ready timeout"}
	}

	switch phase := g.authority.Phase(); phase {
	case credential.PhaseReady:
	case credential.PhaseFailed:
		return Decision{Outcome: Redirect, Location: g.opts.ErrorPath, Reason: "identity provider failed"}
	default:
		return g.fault(log, fmt.Errorf("ready signalled in phase %s", phase))
	}

	if g.authority.Authenticated() {
		return Decision{Outcome: Allow, Reason: "authenticated"}
	}

	loginURL, err := g.authority.LoginURL(nav.Target)
	if err != nil {
		return g.fault(log, fmt.Errorf("build login url: %w", err))
	}
	if t.isSuperseded() {
		return Decision{Outcome: Abandon, Reason: "superseded"}
	}
	return Decision{Outcome: Redirect, Location: loginURL, Reason: "login required"}
}

// awaitReady waits on the authority's ready signal. It reports a timeout,
// or a non-empty reason when the navigation should be abandoned.
func (g *Guard) awaitReady(ctx context.Context, t *ticket) (timedOut bool, abandoned string) {
	ready := g.authority.Ready()

	select {
	case <-ready:
	default:
		timer := time.NewTimer(g.opts.ReadyTimeout)
		defer timer.Stop()

		select {
		case <-ready:
		case <-timer.C:
			timedOut = true
		case <-ctx.Done():
			return false, "navigation cancelled"
		case <-t.superseded:
			return false, "superseded"
		}
	}

	if t.isSuperseded() {
		return false, "superseded"
	}
	return timedOut, ""
}

func (g *Guard) fault(log *zap.Logger, err error) Decision {
	log.Error("navigation evaluation failed",
		zap.Stringer("policy", g.opts.Policy),
		zap.Error(err))

	if g.opts.Policy == FailClosed {
		return Decision{Outcome: Redirect, Location: g.opts.DeniedPath, Reason: err.Error()}
	}
	return Decision{Outcome: Allow, Reason: err.Error()}
}
