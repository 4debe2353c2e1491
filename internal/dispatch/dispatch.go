// Package dispatch consumes promoted reminder envelopes and performs the
// outbound deliveries.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/queue"
	"remindd/pkg/logx"
)

// Handler processes one envelope body for its kind. Errors are logged by
// the dispatcher; the envelope is not redelivered.
type Handler interface {
	Kind() queue.Kind
	Handle(ctx context.Context, body json.RawMessage) error
}

type Config struct {
	Workers int `json:"workers"`
	// SendTimeout bounds one envelope end to end, all outbound calls
	// included.
	SendTimeout time.Duration `json:"send_timeout"`
	// RatePerSecond throttles envelope processing across all workers.
	// Zero disables the limiter.
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Dispatcher runs a fixed pool of workers draining the queue.
type Dispatcher struct {
	cfg      Config
	q        *queue.Queue
	handlers map[queue.Kind]Handler
	limiter  *rate.Limiter
	log      logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, q *queue.Queue, log logx.Logger, handlers ...Handler) *Dispatcher {
	cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	m := make(map[queue.Kind]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Kind()] = h
	}
	var lim *rate.Limiter
	if cfg.RatePerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return &Dispatcher{cfg: cfg, q: q, handlers: m, limiter: lim, log: log}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.log.Info("dispatcher started", logx.Int("workers", d.cfg.Workers))
}

// Stop cancels the workers and waits for in-flight envelopes.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	log := d.log.With(logx.Int("worker", id))
	for {
		env, err := d.q.Dequeue(ctx)
		if err != nil {
			return
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
		}
		d.process(ctx, log, env)
	}
}

func (d *Dispatcher) process(ctx context.Context, log logx.Logger, env queue.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked",
				logx.String("kind", string(env.Kind)),
				logx.Any("panic", r))
		}
	}()

	h, ok := d.handlers[env.Kind]
	if !ok {
		log.Warn("no handler for envelope kind", logx.String("kind", string(env.Kind)))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	if err := h.Handle(ctx, env.Body); err != nil {
		log.Error("dispatch failed",
			logx.String("kind", string(env.Kind)),
			logx.Duration("elapsed", time.Since(start)),
			logx.Err(err))
		return
	}
	log.Debug("envelope dispatched",
		logx.String("kind", string(env.Kind)),
		logx.Duration("elapsed", time.Since(start)))
}
