// Package rotator cycles through configured credential and model pairs.
package rotator

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/extremecoder-rgb/JeevanSetu/internal/core"
)

// Candidate is one (credential, model) entry of the pool.
type Candidate struct {
	Credential string
	Model      string
}

// Rotator hands out candidates in round-robin order. Safe for concurrent use.
type Rotator struct {
	pool   []Candidate
	cursor atomic.Uint64

	models []string
	mu     sync.Mutex
	rng    *rand.Rand
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithModelChoices draws the model for every call at random from models.
// The draw does not move the credential cursor.
func WithModelChoices(models []string, rng *rand.Rand) Option {
	return func(r *Rotator) {
		r.models = append([]string(nil), models...)
		r.rng = rng
	}
}

// New builds a Rotator over pool. An empty pool is a configuration error.
func New(pool []Candidate, opts ...Option) (*Rotator, error) {
	if len(pool) == 0 {
		return nil, &core.ConfigurationError{Message: "credential pool is empty"}
	}
	r := &Rotator{pool: append([]Candidate(nil), pool...)}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.models) > 0 && r.rng == nil {
		r.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return r, nil
}

// Next returns the candidate under the cursor and advances it by one.
func (r *Rotator) Next() Candidate {
	n := r.cursor.Add(1) - 1
	c := r.pool[n%uint64(len(r.pool))]
	if len(r.models) > 0 {
		r.mu.Lock()
		c.Model = r.models[r.rng.Intn(len(r.models))]
		r.mu.Unlock()
	}
	return c
}

// Len returns the pool size.
func (r *Rotator) Len() int { return len(r.pool) }

// Pool returns a copy of the configured candidates.
func (r *Rotator) Pool() []Candidate {
	return append([]Candidate(nil), r.pool...)
}

// FromConfig builds the pool as the cross product of keys and models, key
// major. With randomize set, each key appears once and the model is drawn
// per call from models.
func FromConfig(keys, models []string, randomize bool, rng *rand.Rand) (*Rotator, error) {
	if len(models) == 0 {
		return nil, &core.ConfigurationError{Message: "no model configured"}
	}
	var pool []Candidate
	for _, k := range keys {
		if randomize {
			pool = append(pool, Candidate{Credential: k, Model: models[0]})
			continue
		}
		for _, m := range models {
			pool = append(pool, Candidate{Credential: k, Model: m})
		}
	}
	var opts []Option
	if randomize && len(models) > 1 {
		opts = append(opts, WithModelChoices(models, rng))
	}
	return New(pool, opts...)
}

// Mask hides all but the last four characters of a credential.
func Mask(credential string) string {
	if len(credential) <= 4 {
		return "****"
	}
	return "****" + credential[len(credential)-4:]
}
