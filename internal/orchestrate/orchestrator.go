package orchestrate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okravets/speakfluent/internal/observability"
	"github.com/okravets/speakfluent/internal/translate"
)

const (
	windowSize      = 12
	styleSampleSize = 10
	styleMinFresh   = 5
	styleMinRefresh = 6

	defaultTranslateTimeout = 15 * time.Second
	defaultStyleMaxAge      = time.Minute
	defaultClientTTL        = 5 * time.Minute

	taskQueueSize = 128
)

var errTranslateTimeout = errors.New("translation timed out")

// Sink receives orchestrated output for a client. Implementations must
// not block for long; calls for one client arrive in order.
type Sink interface {
	Final(clientID, sentence string)
	FinalTranslated(clientID, text string)
	TranslationError(clientID, message string)
}

type task struct {
	sentence string
	lang     string
}

// client is the per-client pipeline: a FIFO task queue drained by one
// worker, plus the rolling style context.
type client struct {
	id    string
	tasks chan task
	done  chan struct{}

	mu            sync.Mutex
	window        []string
	profile       *translate.StyleProfile
	profileAt     time.Time
	styleInFlight bool
	lang          string
	lastSeen      time.Time
}

// Options configure an Orchestrator.
type Options struct {
	Translator translate.Translator
	Sink       Sink
	Metrics    *observability.Metrics
	Logger     zerolog.Logger

	TranslateTimeout time.Duration
	StyleMaxAge      time.Duration
	ClientTTL        time.Duration

	// Now overrides the clock for style freshness and eviction.
	Now func() time.Time
}

// Orchestrator serializes the translation pipeline per client: every
// completed sentence becomes one task, tasks for a client run strictly
// in order, and no sentence waits on another client's backlog.
type Orchestrator struct {
	translator translate.Translator
	sink       Sink
	metrics    *observability.Metrics
	log        zerolog.Logger
	timeout    time.Duration
	maxAge     time.Duration
	ttl        time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	clients map[string]*client
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		translator: opts.Translator,
		sink:       opts.Sink,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		timeout:    opts.TranslateTimeout,
		maxAge:     opts.StyleMaxAge,
		ttl:        opts.ClientTTL,
		now:        opts.Now,
		clients:    make(map[string]*client),
	}
	if o.timeout <= 0 {
		o.timeout = defaultTranslateTimeout
	}
	if o.maxAge <= 0 {
		o.maxAge = defaultStyleMaxAge
	}
	if o.ttl <= 0 {
		o.ttl = defaultClientTTL
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Submit enqueues one completed sentence for a client. A target
// language different from the client's previous one resets the style
// context before the sentence is queued.
func (o *Orchestrator) Submit(clientID, sentence, targetLang string) {
	c := o.getOrCreate(clientID)

	c.mu.Lock()
	c.lastSeen = o.now()
	if c.lang != "" && c.lang != targetLang {
		c.window = nil
		c.profile = nil
		c.profileAt = time.Time{}
	}
	c.lang = targetLang
	c.mu.Unlock()

	select {
	case c.tasks <- task{sentence: sentence, lang: targetLang}:
	default:
		o.log.Warn().Str("client_id", clientID).Msg("task queue full, dropping sentence")
		o.sink.TranslationError(clientID, "Error in translation pipeline")
	}
}

// Forget removes a client's pipeline and drops any queued tasks.
func (o *Orchestrator) Forget(clientID string) {
	o.mu.Lock()
	c, ok := o.clients[clientID]
	if ok {
		delete(o.clients, clientID)
	}
	count := len(o.clients)
	o.mu.Unlock()
	if ok {
		close(c.done)
	}
	o.setClientGauge(count)
}

// ClientCount reports the number of live client pipelines.
func (o *Orchestrator) ClientCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.clients)
}

// StartJanitor evicts pipelines idle past the TTL until ctx ends.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.evictIdle()
			}
		}
	}()
}

func (o *Orchestrator) evictIdle() {
	now := o.now()
	var evicted []*client

	o.mu.Lock()
	for id, c := range o.clients {
		c.mu.Lock()
		idle := now.Sub(c.lastSeen)
		c.mu.Unlock()
		if idle > o.ttl {
			delete(o.clients, id)
			evicted = append(evicted, c)
		}
	}
	count := len(o.clients)
	o.mu.Unlock()
	o.setClientGauge(count)

	for _, c := range evicted {
		o.log.Info().Str("client_id", c.id).Msg("evicting idle translation pipeline")
		close(c.done)
	}
}

func (o *Orchestrator) getOrCreate(clientID string) *client {
	o.mu.RLock()
	c, ok := o.clients[clientID]
	o.mu.RUnlock()
	if ok {
		return c
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[clientID]; ok {
		return c
	}
	c = &client{
		id:       clientID,
		tasks:    make(chan task, taskQueueSize),
		done:     make(chan struct{}),
		lastSeen: o.now(),
	}
	o.clients[clientID] = c
	o.setClientGauge(len(o.clients))
	go o.worker(c)
	return c
}

func (o *Orchestrator) setClientGauge(n int) {
	if o.metrics != nil {
		o.metrics.ActiveClients.Set(float64(n))
	}
}

func (o *Orchestrator) worker(c *client) {
	for {
		select {
		case <-c.done:
			return
		case tk := <-c.tasks:
			o.process(c, tk)
		}
	}
}

// process runs one sentence through the pipeline: record it in the
// rolling window, kick off style inference when due, emit the original
// and then translate with a deadline. A translation that misses the
// deadline is reported as an error but not cancelled; its result is
// discarded when it lands.
func (o *Orchestrator) process(c *client, tk task) {
	c.mu.Lock()
	c.window = append(c.window, tk.sentence)
	if len(c.window) > windowSize {
		c.window = c.window[len(c.window)-windowSize:]
	}
	profile := c.profile
	c.mu.Unlock()

	o.maybeInferStyle(c)

	o.sink.Final(c.id, tk.sentence)

	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	started := time.Now()
	go func() {
		text, err := o.translator.Translate(context.Background(), tk.sentence, tk.lang, profile)
		ch <- result{text: text, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-time.After(o.timeout):
		res = result{err: errTranslateTimeout}
	}

	if o.metrics != nil {
		o.metrics.ObserveTranslateLatency(time.Since(started))
	}
	if res.err != nil {
		o.log.Error().Err(res.err).Str("client_id", c.id).Msg("translation failed")
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues("translate", "error").Inc()
		}
		o.sink.TranslationError(c.id, "Error in translation pipeline")
		return
	}
	o.sink.FinalTranslated(c.id, res.text)
}

// maybeInferStyle fires style inference in the background when the
// client has no profile and enough context, or a stale profile and a
// little more context. At most one inference runs per client at a time.
func (o *Orchestrator) maybeInferStyle(c *client) {
	c.mu.Lock()
	need := false
	if c.profile == nil {
		need = len(c.window) >= styleMinFresh
	} else {
		need = o.now().Sub(c.profileAt) > o.maxAge && len(c.window) >= styleMinRefresh
	}
	if !need || c.styleInFlight {
		c.mu.Unlock()
		return
	}
	c.styleInFlight = true
	samples := c.window
	if len(samples) > styleSampleSize {
		samples = samples[len(samples)-styleSampleSize:]
	}
	sentences := make([]string, len(samples))
	copy(sentences, samples)
	c.mu.Unlock()

	go func() {
		profile, err := o.translator.InferStyle(context.Background(), sentences)
		c.mu.Lock()
		c.styleInFlight = false
		if err == nil {
			c.profile = &profile
			c.profileAt = o.now()
		}
		c.mu.Unlock()
		if err != nil {
			o.log.Warn().Err(err).Str("client_id", c.id).Msg("style inference failed")
		}
	}()
}
