package transcribe

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okravets/speakfluent/internal/sentence"
)

// Status is the lifecycle state of a Transcriber.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusPaused    Status = "paused"
	StatusClosed    Status = "closed"
)

// Reasons reported with the final usage record.
const (
	ReasonEnd           = "end"
	ReasonProviderClose = "dg-close"
	ReasonTimeout       = "timeout"
)

const (
	defaultTickInterval      = time.Second
	defaultKeepAliveInterval = 5 * time.Second
	defaultPauseAutoClose    = 50 * time.Second
)

// UsageProgress is a periodic snapshot of active time for the current
// session.
type UsageProgress struct {
	StartedAt time.Time
	Seconds   int64
}

// UsageFinal is the single settlement record for a session.
type UsageFinal struct {
	StartedAt time.Time
	EndedAt   time.Time
	Seconds   int64
	Reason    string
}

// Events is the closed set of callbacks a Transcriber reports into.
// Nil callbacks are skipped.
type Events struct {
	Ready         func()
	Sentence      func(text, targetLanguage string)
	UsageProgress func(UsageProgress)
	UsageFinal    func(UsageFinal)
	Error         func(message, detail string)
	Closed        func(detail string)
}

// Options configure a Transcriber.
type Options struct {
	Provider Provider
	Events   Events
	Model    string
	Logger   zerolog.Logger

	// Timer intervals, defaulted when zero.
	TickInterval      time.Duration
	KeepAliveInterval time.Duration
	PauseAutoClose    time.Duration

	// Now overrides the clock for usage accounting.
	Now func() time.Time
}

// Transcriber owns one client's live transcription session: the
// provider stream, sentence assembly, pause handling and usage
// accounting. Safe for concurrent use.
type Transcriber struct {
	provider          Provider
	events            Events
	model             string
	log               zerolog.Logger
	tickInterval      time.Duration
	keepAliveInterval time.Duration
	pauseAutoClose    time.Duration
	now               func() time.Time

	mu         sync.Mutex
	status     Status
	opening    bool
	finalized  bool
	stream     Stream
	targetLang string
	builder    *sentence.Builder
	usage      accountant
	startedAt  time.Time

	progressDone  chan struct{}
	keepAliveDone chan struct{}
	autoClose     *time.Timer
}

func New(opts Options) *Transcriber {
	t := &Transcriber{
		provider:          opts.Provider,
		events:            opts.Events,
		model:             opts.Model,
		log:               opts.Logger,
		tickInterval:      opts.TickInterval,
		keepAliveInterval: opts.KeepAliveInterval,
		pauseAutoClose:    opts.PauseAutoClose,
		now:               opts.Now,
		status:            StatusIdle,
		builder:           sentence.NewBuilder(),
	}
	if t.tickInterval <= 0 {
		t.tickInterval = defaultTickInterval
	}
	if t.keepAliveInterval <= 0 {
		t.keepAliveInterval = defaultKeepAliveInterval
	}
	if t.pauseAutoClose <= 0 {
		t.pauseAutoClose = defaultPauseAutoClose
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Status returns the current lifecycle state.
func (t *Transcriber) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetTargetLanguage updates the language tagged onto emitted sentences.
// Takes effect for sentences completed after the call.
func (t *Transcriber) SetTargetLanguage(lang string) {
	t.mu.Lock()
	t.targetLang = lang
	t.mu.Unlock()
}

// Start opens the provider stream if none is active. Repeated calls
// while a stream is open or opening are no-ops, as are calls after the
// session has ended.
func (t *Transcriber) Start(ctx context.Context, sampleRate int, inputLanguage, targetLanguage string) error {
	t.mu.Lock()
	if t.finalized || t.opening || t.stream != nil {
		t.mu.Unlock()
		return nil
	}
	t.opening = true
	t.targetLang = targetLanguage
	t.mu.Unlock()

	stream, err := t.provider.Open(ctx, StreamOptions{
		SampleRate: sampleRate,
		Language:   inputLanguage,
		Model:      t.model,
	}, StreamEvents{
		Ready:      t.handleReady,
		Transcript: t.handleTranscript,
		Closed:     t.handleProviderClose,
		Error:      t.handleProviderError,
	})

	t.mu.Lock()
	t.opening = false
	if err != nil {
		t.mu.Unlock()
		t.log.Error().Err(err).Msg("transcription stream open failed")
		t.emitError("Error starting transcription", err.Error())
		return err
	}
	if t.finalized {
		t.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	t.stream = stream
	t.mu.Unlock()
	return nil
}

// Send forwards one audio frame to the provider. Frames arriving while
// paused or before the stream is ready are dropped.
func (t *Transcriber) Send(audio []byte) {
	t.mu.Lock()
	stream := t.stream
	status := t.status
	t.mu.Unlock()
	if stream == nil || status != StatusStreaming {
		return
	}
	if err := stream.Send(audio); err != nil {
		t.log.Warn().Err(err).Msg("audio frame send failed")
		t.emitError("Error sending audio", err.Error())
	}
}

// Pause suspends (flag true) or resumes (flag false) recognition
// without closing the provider stream. Pausing drains any buffered
// partial sentence, stops the usage clock and starts keep-alives plus
// an auto-close countdown; resuming reverses all of that.
func (t *Transcriber) Pause(flag bool) {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	switch {
	case flag && t.status == StatusStreaming:
		t.usage.closeSegment(t.now())
		t.status = StatusPaused
		t.startKeepAliveLocked()
		t.autoClose = time.AfterFunc(t.pauseAutoClose, func() {
			t.log.Info().Msg("pause exceeded limit, closing session")
			t.finalize(ReasonTimeout)
		})
		drained := t.builder.Flush()
		lang := t.targetLang
		t.mu.Unlock()
		if drained != "" && t.events.Sentence != nil {
			t.events.Sentence(drained, lang)
		}
	case !flag && t.status == StatusPaused:
		t.stopPauseTimersLocked()
		t.usage.openSegment(t.now())
		t.status = StatusStreaming
		t.mu.Unlock()
	default:
		t.mu.Unlock()
	}
}

// End closes the session deliberately and settles usage.
func (t *Transcriber) End() {
	t.finalize(ReasonEnd)
}

// Dispose tears the session down, for example when the client
// disconnects. Idempotent, and safe to race with a provider close.
func (t *Transcriber) Dispose() {
	t.finalize(ReasonEnd)
}

func (t *Transcriber) handleReady() {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	t.status = StatusStreaming
	now := t.now()
	if t.startedAt.IsZero() {
		t.startedAt = now
	}
	t.usage.openSegment(now)
	if t.progressDone == nil {
		t.progressDone = make(chan struct{})
		go t.progressLoop(t.progressDone)
	}
	t.mu.Unlock()

	t.log.Debug().Msg("transcription stream ready")
	if t.events.Ready != nil {
		t.events.Ready()
	}
}

func (t *Transcriber) handleTranscript(text string, isFinal bool) {
	if !isFinal || text == "" {
		return
	}
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	sentences := t.builder.Feed(text)
	lang := t.targetLang
	t.mu.Unlock()

	if t.events.Sentence == nil {
		return
	}
	for _, s := range sentences {
		t.events.Sentence(s, lang)
	}
}

func (t *Transcriber) handleProviderClose() {
	t.mu.Lock()
	already := t.finalized
	t.mu.Unlock()
	if !already && t.events.Closed != nil {
		t.events.Closed("Deepgram connection is closed")
	}
	t.finalize(ReasonProviderClose)
}

func (t *Transcriber) handleProviderError(err error) {
	t.log.Error().Err(err).Msg("transcription provider error")
	t.emitError("Deepgram error", err.Error())
}

func (t *Transcriber) emitError(message, detail string) {
	if t.events.Error != nil {
		t.events.Error(message, detail)
	}
}

// finalize closes the session exactly once, stops every timer and
// reports the usage settlement.
func (t *Transcriber) finalize(reason string) {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	t.finalized = true
	t.status = StatusClosed
	now := t.now()
	t.usage.closeSegment(now)
	stream := t.stream
	t.stream = nil
	if t.progressDone != nil {
		close(t.progressDone)
		t.progressDone = nil
	}
	t.stopPauseTimersLocked()
	startedAt := t.startedAt
	total := t.usage.active(now)
	t.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}

	// A session that never became ready has nothing to settle.
	if startedAt.IsZero() {
		return
	}
	t.log.Info().
		Str("reason", reason).
		Dur("active", total).
		Msg("transcription session settled")
	if t.events.UsageFinal != nil {
		t.events.UsageFinal(UsageFinal{
			StartedAt: startedAt,
			EndedAt:   now,
			Seconds:   int64(math.Round(total.Seconds())),
			Reason:    reason,
		})
	}
}

// startKeepAliveLocked starts the pause keep-alive loop. Caller holds mu.
func (t *Transcriber) startKeepAliveLocked() {
	if t.keepAliveDone != nil {
		return
	}
	t.keepAliveDone = make(chan struct{})
	go t.keepAliveLoop(t.keepAliveDone)
}

// stopPauseTimersLocked stops the keep-alive loop and the auto-close
// countdown. Caller holds mu.
func (t *Transcriber) stopPauseTimersLocked() {
	if t.keepAliveDone != nil {
		close(t.keepAliveDone)
		t.keepAliveDone = nil
	}
	if t.autoClose != nil {
		t.autoClose.Stop()
		t.autoClose = nil
	}
}

func (t *Transcriber) progressLoop(done chan struct{}) {
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.emitProgress()
		}
	}
}

func (t *Transcriber) emitProgress() {
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	active := t.usage.active(t.now())
	startedAt := t.startedAt
	t.mu.Unlock()

	if active <= 0 || t.events.UsageProgress == nil {
		return
	}
	t.events.UsageProgress(UsageProgress{
		StartedAt: startedAt,
		Seconds:   int64(active / time.Second),
	})
}

func (t *Transcriber) keepAliveLoop(done chan struct{}) {
	ticker := time.NewTicker(t.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.mu.Lock()
			stream := t.stream
			t.mu.Unlock()
			if stream == nil {
				return
			}
			if err := stream.KeepAlive(); err != nil {
				t.log.Warn().Err(err).Msg("keep-alive send failed")
			}
		}
	}
}
