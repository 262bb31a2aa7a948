package proxy

import (
	"sync"
	"time"

	"github.com/teranos/vouch/logger"
)

// Outcome reports how a checkout ended
type Outcome int

const (
	// OutcomeSuccess clears the failure streak; the endpoint worked
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts against health and the quarantine streak
	OutcomeFailure
	// OutcomeNeutral releases with no health effect; used when the job
	// ended for reasons the proxy cannot be blamed for (timeouts,
	// cancellation, provider-side rejections)
	OutcomeNeutral
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeNeutral:
		return "neutral"
	}
	return "unknown"
}

// Config tunes pool behavior
type Config struct {
	DefaultHealth       int           // starting health score
	QuarantineThreshold int           // consecutive failures before quarantine
	Cooldown            time.Duration // quarantine duration before revival
}

// entry is per-endpoint bookkeeping, guarded by the pool mutex
type entry struct {
	ep                  *Endpoint
	health              int
	consecutiveFailures int
	quarantinedUntil    time.Time // zero = not quarantined
	lastUsedAt          time.Time
	checkedOut          bool
}

func (e *entry) quarantined() bool {
	return !e.quarantinedUntil.IsZero()
}

// Pool hands out endpoints by health and takes them back with an
// outcome. All operations are non-blocking; Checkout returns false
// rather than waiting.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	addrs   []string // stable iteration order
	cfg     Config

	now func() time.Time
}

// NewPool creates a pool over the given endpoints, all starting at
// the configured default health
func NewPool(cfg Config, endpoints []*Endpoint) *Pool {
	p := &Pool{
		entries: make(map[string]*entry, len(endpoints)),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, ep := range endpoints {
		if _, dup := p.entries[ep.Address]; dup {
			continue
		}
		p.entries[ep.Address] = &entry{ep: ep, health: cfg.DefaultHealth}
		p.addrs = append(p.addrs, ep.Address)
	}
	return p
}

// Checkout returns the available endpoint with the highest health,
// ties broken by least recent use. Returns false when every endpoint
// is checked out or quarantined.
func (p *Pool) Checkout() (*Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *entry
	for _, addr := range p.addrs {
		e := p.entries[addr]
		if e.checkedOut || e.quarantined() {
			continue
		}
		if best == nil ||
			e.health > best.health ||
			(e.health == best.health && e.lastUsedAt.Before(best.lastUsedAt)) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}

	best.checkedOut = true
	best.lastUsedAt = p.now()
	return best.ep, true
}

// Release returns a checked-out endpoint with the given outcome.
// Quarantine starts when the failure streak hits the threshold or
// health reaches zero.
func (p *Pool) Release(ep *Endpoint, outcome Outcome) {
	if ep == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[ep.Address]
	if !ok || !e.checkedOut {
		logger.Warnw("Release of unknown or idle proxy",
			"proxy", ep.Address,
			"outcome", outcome.String())
		return
	}

	e.checkedOut = false
	switch outcome {
	case OutcomeSuccess:
		e.consecutiveFailures = 0
	case OutcomeFailure:
		e.health--
		e.consecutiveFailures++
		if e.consecutiveFailures >= p.cfg.QuarantineThreshold || e.health <= 0 {
			e.quarantinedUntil = p.now().Add(p.cfg.Cooldown)
			logger.Infow("Proxy quarantined",
				"proxy", ep.Address,
				"health", e.health,
				"consecutive_failures", e.consecutiveFailures,
				"until", e.quarantinedUntil)
		}
	case OutcomeNeutral:
		// No health effect
	}
}

// ReviveDue lifts quarantine from endpoints whose cool-down has
// elapsed. Revived endpoints restart at half the default health.
// Returns how many were revived.
func (p *Pool) ReviveDue() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	revived := 0
	for _, addr := range p.addrs {
		e := p.entries[addr]
		if !e.quarantined() || e.quarantinedUntil.After(now) {
			continue
		}
		e.quarantinedUntil = time.Time{}
		e.consecutiveFailures = 0
		e.health = p.cfg.DefaultHealth / 2
		if e.health < 1 {
			e.health = 1
		}
		revived++
		logger.Infow("Proxy revived from quarantine",
			"proxy", addr,
			"health", e.health)
	}
	return revived
}

// Stats summarizes pool occupancy
type Stats struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	CheckedOut  int `json:"checked_out"`
	Quarantined int `json:"quarantined"`
}

// Stats returns current pool occupancy
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Total: len(p.addrs)}
	for _, addr := range p.addrs {
		e := p.entries[addr]
		switch {
		case e.checkedOut:
			s.CheckedOut++
		case e.quarantined():
			s.Quarantined++
		default:
			s.Available++
		}
	}
	return s
}

// Status is one endpoint's bookkeeping, for the API and CLI
type Status struct {
	Address             string    `json:"address"`
	Health              int       `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CheckedOut          bool      `json:"checked_out"`
	Quarantined         bool      `json:"quarantined"`
	QuarantinedUntil    time.Time `json:"quarantined_until,omitempty"`
	LastUsedAt          time.Time `json:"last_used_at,omitempty"`
}

// List returns per-endpoint status in list-file order
func (p *Pool) List() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.addrs))
	for _, addr := range p.addrs {
		e := p.entries[addr]
		out = append(out, Status{
			Address:             addr,
			Health:              e.health,
			ConsecutiveFailures: e.consecutiveFailures,
			CheckedOut:          e.checkedOut,
			Quarantined:         e.quarantined(),
			QuarantinedUntil:    e.quarantinedUntil,
			LastUsedAt:          e.lastUsedAt,
		})
	}
	return out
}
