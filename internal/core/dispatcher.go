package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

const (
	defaultAITimeout  = 60 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
	maxRetries        = 1
)

// Dispatcher routes a question to the vision provider when an image is
// attached and to the text provider otherwise.
type Dispatcher struct {
	text         ResponseProvider
	vision       ResponseProvider
	systemPrompt string
	timeout      time.Duration
	retryDelay   time.Duration
	log          zerolog.Logger
}

type DispatcherOptions struct {
	SystemPrompt string
	Timeout      time.Duration
	RetryDelay   time.Duration
}

func NewDispatcher(text, vision ResponseProvider, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultAITimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Dispatcher{
		text:         text,
		vision:       vision,
		systemPrompt: opts.SystemPrompt,
		timeout:      opts.Timeout,
		retryDelay:   opts.RetryDelay,
		log:          log.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) providerFor(imageURL string) ResponseProvider {
	if imageURL != "" {
		return d.vision
	}
	return d.text
}

// Dispatch returns the drafted answer or an error wrapping ErrAIUnavailable.
// It never returns empty text with a nil error.
func (d *Dispatcher) Dispatch(ctx context.Context, question, imageURL, history string) (string, error) {
	provider := d.providerFor(imageURL)
	if provider == nil {
		return "", fmt.Errorf("%w: no provider configured", ErrAIUnavailable)
	}

	prompt := Prompt{
		SystemPrompt: d.systemPrompt,
		Question:     question,
		ImageURL:     imageURL,
		History:      history,
	}
	log := d.log.With().Str("provider", provider.Name()).Logger()
	log.Info().Bool("image", imageURL != "").Int("history_chars", len(history)).Msg("dispatching question")

	var text string
	attempt := 0
	op := func() error {
		attempt++
		out, err := d.produce(ctx, provider, prompt)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("provider call failed")
			if ctx.Err() != nil || !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if strings.TrimSpace(out) == "" {
			return backoff.Permanent(errors.New("provider returned an empty response"))
		}
		text = out
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryDelay), maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		log.Error().Err(err).Int("attempts", attempt).Msg("AI dispatch failed")
		return "", fmt.Errorf("%w: %s: %v", ErrAIUnavailable, provider.Name(), err)
	}

	log.Info().Int("attempts", attempt).Int("chars", len(text)).Msg("AI response received")
	return text, nil
}

// produce runs one provider call under the per-call timeout and converts a
// provider panic into an error.
func (d *Dispatcher) produce(ctx context.Context, provider ResponseProvider, prompt Prompt) (text string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", provider.Name(), r)
		}
	}()
	return provider.Produce(callCtx, prompt)
}

// isTransient reports whether a failed call is worth one more attempt.
// Client errors other than timeouts and rate limits are not, and neither is
// anything a provider marked permanent.
func isTransient(err error) bool {
	var permErr *permanentError
	if errors.As(err, &permErr) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}
	var gaxErr *apierror.APIError
	if errors.As(err, &gaxErr) {
		if code := gaxErr.HTTPCode(); code > 0 {
			return retryableStatus(code)
		}
		return retryableCode(gaxErr.GRPCStatus().Code())
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.code)
	}
	// Transport failures carry no status.
	return true
}

func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code == 0 || code >= 500
}

// statusError lets providers report an HTTP status the retry policy can
// classify.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.msg, e.code)
}

func retryableCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Internal, codes.Unknown, codes.Aborted:
		return true
	}
	return false
}

// permanentError is a failure a second attempt cannot fix, such as a
// payload that is not an image or a reply with no content.
type permanentError struct {
	msg string
}

func (e *permanentError) Error() string { return e.msg }

func permanentf(format string, args ...any) error {
	return &permanentError{msg: fmt.Sprintf(format, args...)}
}
