package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/caption-qos/internal/config"
	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/resilience"
)

const deepgramService = "deepgram"

// ErrRecognizerClosed is returned by Recognize after Close.
var ErrRecognizerClosed = errors.New("recognizer closed")

var errConnect = resilience.NewRetryableError(errors.New("deepgram websocket handshake failed"))

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription messages to the recognizer
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// streamClient is the part of the Deepgram websocket client a recognizer uses
type streamClient interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, apiKey string, options *interfaces.LiveTranscriptionOptions, callback *messageCallbackHandler) (streamClient, error)

func dialDeepgram(ctx context.Context, apiKey string, options *interfaces.LiveTranscriptionOptions, callback *messageCallbackHandler) (streamClient, error) {
	client, err := listenClient.NewWSUsingCallback(ctx, apiKey, nil, options, callback)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Deepgram builds per-session streaming recognizers that share one circuit breaker
type Deepgram struct {
	config  *config.Config
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	dial    dialFunc
	logger  zerolog.Logger
}

// NewDeepgram creates the Deepgram oracle integration
func NewDeepgram(cfg *config.Config) *Deepgram {
	return &Deepgram{
		config: cfg,
		breaker: resilience.NewCircuitBreaker(
			deepgramService,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		dial:   dialDeepgram,
		logger: observability.WithComponent("stt.deepgram"),
	}
}

// NewRecognizer opens a streaming connection for one call. It satisfies Factory.
func (d *Deepgram) NewRecognizer(callID, language string) (Recognizer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &DeepgramRecognizer{
		parent:     d,
		language:   language,
		timeout:    time.Duration(d.config.RecognizeTimeoutMs) * time.Millisecond,
		transcript: make(chan transcriptEvent, 100),
		vendorErrs: make(chan error, 1),
		ctx:        ctx,
		cancel:     cancel,
		logger:     observability.WithCall(d.logger, callID),
	}

	err := resilience.Retry(ctx, d.retry, func() error {
		return d.breaker.Call(r.connect)
	}, resilience.IsRetryableNetworkError)
	observability.UpdateCircuitBreakerState(deepgramService, int(d.breaker.GetState()))
	if err != nil {
		cancel()
		observability.IncrementCircuitBreakerFailures(deepgramService)
		return nil, fmt.Errorf("failed to start Deepgram session: %w", err)
	}

	return r, nil
}

// Ready reports whether new sessions can currently be opened
func (d *Deepgram) Ready(ctx context.Context) (bool, error) {
	if d.config.DeepgramAPIKey == "" {
		return false, fmt.Errorf("DEEPGRAM_API_KEY is not set")
	}
	if d.breaker.GetState() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

type transcriptEvent struct {
	text       string
	isFinal    bool
	confidence float64
}

// DeepgramRecognizer implements Recognizer over one Deepgram streaming connection
type DeepgramRecognizer struct {
	parent   *Deepgram
	language string
	timeout  time.Duration

	mu         sync.RWMutex
	client     streamClient
	isActive   bool
	transcript chan transcriptEvent
	vendorErrs chan error

	// recognizeMu keeps one audio unit in flight so finals map to their unit
	recognizeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// connect opens a websocket unless one is live. A connection dropped after a
// vendor error or failed write is finished before it is replaced.
func (r *DeepgramRecognizer) connect() error {
	r.mu.Lock()
	if r.isActive {
		r.mu.Unlock()
		return nil
	}
	stale := r.client
	r.client = nil
	r.mu.Unlock()

	if stale != nil {
		stale.Finish()
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.parent.config.DeepgramModel,
		Language:       r.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "mulaw", // G.711 PCMU
		Channels:       1,
		SampleRate:     8000,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                r.handleMessage,
		errorHandler:           r.handleError,
	}

	client, err := r.parent.dial(r.ctx, r.parent.config.DeepgramAPIKey, tOptions, callback)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		client.Finish()
		return errConnect
	}

	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		client.Finish()
		return ErrRecognizerClosed
	}
	r.client = client
	r.isActive = true
	r.mu.Unlock()

	r.logger.Info().
		Str("model", r.parent.config.DeepgramModel).
		Str("language", r.language).
		Msg("Deepgram streaming session started")
	return nil
}

// handleError records a vendor error against the breaker once and marks the
// connection for replacement on the next Recognize
func (r *DeepgramRecognizer) handleError(errorResponse *msginterfaces.ErrorResponse) error {
	r.logger.Error().Interface("error", errorResponse).Msg("Deepgram error")

	r.parent.breaker.RecordResult(false)
	observability.UpdateCircuitBreakerState(deepgramService, int(r.parent.breaker.GetState()))
	observability.IncrementCircuitBreakerFailures(deepgramService)

	r.mu.Lock()
	r.isActive = false
	r.mu.Unlock()

	select {
	case r.vendorErrs <- fmt.Errorf("deepgram error: %+v", errorResponse):
	default:
	}
	return nil
}

// handleMessage keeps transcription results and ignores other message types
func (r *DeepgramRecognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		select {
		case r.transcript <- transcriptEvent{text: alt.Transcript, isFinal: msg.IsFinal, confidence: alt.Confidence}:
		default:
			r.logger.Warn().Msg("Transcript channel full, dropping result")
		}

	default:
		r.logger.Debug().Str("type", msg.Type).Msg("Deepgram message ignored")
	}
}

// Recognize sends one audio unit and waits for the next final transcript
func (r *DeepgramRecognizer) Recognize(ctx context.Context, audio []byte, _ string) (Recognition, error) {
	r.recognizeMu.Lock()
	defer r.recognizeMu.Unlock()

	select {
	case <-r.ctx.Done():
		return Recognition{}, ErrRecognizerClosed
	default:
	}

	r.drain()

	err := r.parent.breaker.Call(func() error {
		if err := r.connect(); err != nil {
			return err
		}

		r.mu.RLock()
		client := r.client
		r.mu.RUnlock()
		if client == nil {
			return ErrRecognizerClosed
		}

		if _, err := client.Write(audio); err != nil {
			r.mu.Lock()
			r.isActive = false
			r.mu.Unlock()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
	observability.UpdateCircuitBreakerState(deepgramService, int(r.parent.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures(deepgramService)
		return Recognition{}, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-r.transcript:
			if ev.isFinal {
				return Recognition{Transcript: ev.text, Confidence: ev.confidence}, nil
			}
		case err := <-r.vendorErrs:
			// already recorded against the breaker by handleError
			return Recognition{}, err
		case <-timer.C:
			return Recognition{}, fmt.Errorf("%w within %v", ErrNoTranscript, r.timeout)
		case <-ctx.Done():
			return Recognition{}, ctx.Err()
		case <-r.ctx.Done():
			return Recognition{}, ErrRecognizerClosed
		}
	}
}

// drain discards results and errors left over from an earlier unit
func (r *DeepgramRecognizer) drain() {
	for {
		select {
		case <-r.transcript:
		case <-r.vendorErrs:
		default:
			return
		}
	}
}

// Close finishes the streaming session
func (r *DeepgramRecognizer) Close() error {
	r.cancel()

	r.mu.Lock()
	client := r.client
	r.client = nil
	r.isActive = false
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	client.Finish()
	r.logger.Info().Msg("Deepgram streaming session stopped")
	return nil
}
