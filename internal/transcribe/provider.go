package transcribe

import "context"

// StreamOptions are the fixed recognition parameters for one provider
// session.
type StreamOptions struct {
	SampleRate int
	Language   string
	Model      string
}

// StreamEvents is the closed set of callbacks a provider stream reports
// into. Handlers may be invoked from provider-owned goroutines.
type StreamEvents struct {
	Ready      func()
	Transcript func(text string, isFinal bool)
	Closed     func()
	Error      func(err error)
}

// Stream is one live speech-to-text session.
type Stream interface {
	// Send forwards one raw PCM frame. Not awaited for backpressure.
	Send(audio []byte) error

	// KeepAlive sends the provider's keep-alive control message so the
	// connection survives a pause.
	KeepAlive() error

	// Close starts the provider close handshake. The Closed callback
	// fires when the provider confirms.
	Close() error
}

// Provider opens live transcription streams.
type Provider interface {
	Open(ctx context.Context, opts StreamOptions, events StreamEvents) (Stream, error)
}
