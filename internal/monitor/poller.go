package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reader is the part of a device connection the poller needs.
type Reader interface {
	ReadMemoryArea(ctx context.Context, address, size int) ([]byte, error)
}

type Options struct {
	Interval    time.Duration
	ReadTimeout time.Duration
	// MaxReadSize caps the span of a merged read; 0 = unlimited.
	MaxReadSize int
	// Concurrency is the number of reads in flight within one cycle.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

type Stats struct {
	Running    bool          `json:"running"`
	Generation uint64        `json:"generation"`
	Cycles     uint64        `json:"cycles"`
	Skipped    uint64        `json:"skipped"`
	Reads      uint64        `json:"reads"`
	ReadErrors uint64        `json:"read_errors"`
	Discarded  uint64        `json:"discarded"`
	LastCycle  time.Duration `json:"last_cycle"`
}

// Poller reads every planned range of the registry once per tick.
// At most one cycle is in flight per generation; a tick that finds the
// previous cycle still running is skipped. Start and Stop each begin a new
// generation, and results from an older generation are dropped.
type Poller struct {
	registry *Registry
	reader   Reader
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	gen      uint64
	busy     bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup

	// dispatchMu serializes callbacks and orders them against Stop.
	dispatchMu sync.Mutex

	cycles     atomic.Uint64
	skipped    atomic.Uint64
	reads      atomic.Uint64
	readErrors atomic.Uint64
	discarded  atomic.Uint64
	lastCycle  atomic.Int64
}

func NewPoller(registry *Registry, reader Reader, opts Options, logger *zap.Logger) *Poller {
	return &Poller{
		registry: registry,
		reader:   reader,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Start startet das zyklische Polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.gen++
	p.busy = false
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.stopChan = make(chan struct{})
	p.running = true

	p.wg.Add(1)
	go p.pollLoop(p.ctx, p.stopChan, p.gen)

	p.logger.Info("Poller started",
		zap.Uint64("generation", p.gen),
		zap.Duration("interval", p.opts.Interval))

	return nil
}

// Stop ends polling. After it returns no callback is invoked for reads
// issued before the call.
func (p *Poller) Stop() {
	p.dispatchMu.Lock()
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.dispatchMu.Unlock()
		return
	}
	p.running = false
	p.gen++
	p.cancel()
	close(p.stopChan)
	gen := p.gen
	p.mu.Unlock()
	p.dispatchMu.Unlock()

	p.wg.Wait()

	p.logger.Info("Poller stopped", zap.Uint64("generation", gen))
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	running, gen := p.running, p.gen
	p.mu.Unlock()

	return Stats{
		Running:    running,
		Generation: gen,
		Cycles:     p.cycles.Load(),
		Skipped:    p.skipped.Load(),
		Reads:      p.reads.Load(),
		ReadErrors: p.readErrors.Load(),
		Discarded:  p.discarded.Load(),
		LastCycle:  time.Duration(p.lastCycle.Load()),
	}
}

// Tick runs one cycle synchronously. It returns false when the poller is
// stopped or a cycle is already in flight.
func (p *Poller) Tick() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	gen, ctx := p.gen, p.ctx
	p.mu.Unlock()

	if !p.acquire(gen) {
		return false
	}
	p.runCycle(ctx, gen)
	return true
}

func (p *Poller) pollLoop(ctx context.Context, stop <-chan struct{}, gen uint64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if p.acquire(gen) {
				go p.runCycle(ctx, gen)
			}
		}
	}
}

func (p *Poller) acquire(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || gen != p.gen {
		return false
	}
	if p.busy {
		p.skipped.Add(1)
		p.logger.Debug("Poll tick skipped, previous cycle in flight", zap.Uint64("generation", gen))
		return false
	}
	p.busy = true
	return true
}

func (p *Poller) release(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen == p.gen {
		p.busy = false
	}
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && gen == p.gen
}

func (p *Poller) runCycle(ctx context.Context, gen uint64) {
	defer p.release(gen)

	start := time.Now()
	plan := p.registry.Plan(p.opts.MaxReadSize)

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Concurrency)
	for _, rd := range plan {
		g.Go(func() error {
			p.readAndDispatch(ctx, gen, rd)
			return nil
		})
	}
	_ = g.Wait()

	p.cycles.Add(1)
	p.lastCycle.Store(int64(time.Since(start)))
}

func (p *Poller) readAndDispatch(ctx context.Context, gen uint64, rd Read) {
	if ctx.Err() != nil {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, p.opts.ReadTimeout)
	defer cancel()

	p.reads.Add(1)
	data, err := p.reader.ReadMemoryArea(readCtx, rd.Address, rd.Size)
	if err != nil {
		if !p.current(gen) {
			p.discarded.Add(1)
			return
		}
		p.readErrors.Add(1)
		p.logger.Warn("Poll read failed",
			zap.Int("address", rd.Address),
			zap.Int("size", rd.Size),
			zap.Error(err))
		return
	}

	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	if !p.current(gen) {
		p.discarded.Add(1)
		return
	}
	rd.Dispatch(data)
}
