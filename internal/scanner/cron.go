package scanner

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/pkg/logx"
)

// Cron drives the scanners on their configured schedules.
//
// Jobs are overlap-skipped: a tick that fires while the previous run of
// the same job is still going is dropped, matching the platform timer
// semantics the pipeline was written for.
type Cron struct {
	mu sync.Mutex

	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc

	defs []jobDef
}

type jobDef struct {
	name  string
	spec  string
	run   func(ctx context.Context) error
	state *runState
}

type runState struct {
	mu      sync.Mutex
	running bool
}

func NewCron(log logx.Logger) *Cron {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cron{
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers a job. It must be called before Start.
func (s *Cron) Add(name, spec string, run func(ctx context.Context) error) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}
	s.mu.Lock()
	s.defs = append(s.defs, jobDef{name: name, spec: spec, run: run, state: &runState{}})
	s.mu.Unlock()
	return nil
}

func (s *Cron) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser))

	for i := range s.defs {
		def := s.defs[i]
		_, err := s.c.AddFunc(def.spec, func() { s.fire(def) })
		if err != nil {
			s.log.Error("cron registration failed", logx.String("job", def.name), logx.Err(err))
			continue
		}
		s.log.Info("scan job scheduled", logx.String("job", def.name), logx.String("spec", def.spec))
	}
	s.c.Start()
}

func (s *Cron) fire(def jobDef) {
	def.state.mu.Lock()
	if def.state.running {
		def.state.mu.Unlock()
		s.log.Debug("scan tick skipped (previous run still going)", logx.String("job", def.name))
		return
	}
	def.state.running = true
	def.state.mu.Unlock()

	defer func() {
		def.state.mu.Lock()
		def.state.running = false
		def.state.mu.Unlock()
		if r := recover(); r != nil {
			s.log.Error("panic in scan job", logx.String("job", def.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	start := time.Now()
	if err := def.run(ctx); err != nil {
		s.log.Warn("scan job failed", logx.String("job", def.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("scan job finished", logx.String("job", def.name), logx.Duration("took", time.Since(start)))
}

func (s *Cron) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// stop continues in background
	}
}
