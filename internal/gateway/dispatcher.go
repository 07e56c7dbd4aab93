// Package gateway dispatches validated tool calls under global concurrency
// and per-tool rate bounds.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"vita/internal/async"
	gwerrors "vita/internal/errors"
	"vita/internal/logging"
	"vita/internal/observability"
	"vita/internal/ratelimit"
	"vita/internal/session"
	"vita/internal/stats"
	"vita/internal/tool"
)

// DefaultCallTimeout bounds a single handler execution, admission wait
// included.
const DefaultCallTimeout = 30 * time.Second

// Options tunes the dispatcher. Zero values use the package defaults.
type Options struct {
	MaxConcurrent    int
	CallTimeout      time.Duration
	RateLimitEnabled bool
	AsyncRetention   time.Duration
	Tracer           trace.Tracer
}

// Dispatcher sequences every call: session touch, rate-limit check, catalog
// lookup, parameter validation, admission, timed execution, statistics.
// All collaborators are injected so tests can run isolated instances.
type Dispatcher struct {
	catalog  *tool.Catalog
	limiter  *ratelimit.Limiter
	sessions *session.Tracker
	stats    *stats.Collector
	governor *governor
	pending  *pendingStore

	callTimeout      time.Duration
	rateLimitEnabled bool
	logger           logging.Logger
	tracer           trace.Tracer
}

// New wires a dispatcher from its collaborators and starts the async-handle
// janitor. Call Close on shutdown.
func New(catalog *tool.Catalog, limiter *ratelimit.Limiter, sessions *session.Tracker, collector *stats.Collector, logger logging.Logger, opts Options) *Dispatcher {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("vita/gateway")
	}

	d := &Dispatcher{
		catalog:          catalog,
		limiter:          limiter,
		sessions:         sessions,
		stats:            collector,
		governor:         newGovernor(opts.MaxConcurrent),
		pending:          newPendingStore(opts.AsyncRetention, logger),
		callTimeout:      timeout,
		rateLimitEnabled: opts.RateLimitEnabled,
		logger:           logging.WithComponent(logger, "dispatcher"),
		tracer:           tracer,
	}
	d.pending.start()
	return d
}

// Close stops the background janitor.
func (d *Dispatcher) Close() {
	d.pending.stop()
}

// InFlight returns the number of handlers currently executing.
func (d *Dispatcher) InFlight() int {
	return d.governor.inUse()
}

// MaxConcurrent returns the admission bound.
func (d *Dispatcher) MaxConcurrent() int {
	return d.governor.capacity()
}

// PendingCalls returns the number of tracked async handles.
func (d *Dispatcher) PendingCalls() int {
	return d.pending.len()
}

// Execute runs the full dispatch pipeline and blocks until the call
// completes, times out, or is rejected. The outcome always arrives as a
// structured Result; it never panics and never raises past this boundary.
func (d *Dispatcher) Execute(ctx context.Context, req Request) *Result {
	req = normalize(req)
	start := time.Now()

	attrs := append(observability.ToolAttrs(req.Tool, req.CallerID),
		attribute.String(observability.AttrRequestID, req.RequestID),
		attribute.String(observability.AttrSessionID, req.SessionID),
	)
	ctx, span := d.tracer.Start(ctx, "gateway.execute", trace.WithAttributes(attrs...))
	defer span.End()

	d.sessions.Touch(req.SessionID, req.CallerID)

	spec, handler, resolveErr := d.catalog.Resolve(req.Tool)

	if d.rateLimitEnabled {
		var override int
		if spec != nil {
			override = spec.RateLimitPerMinute
		}
		if err := d.limiter.CheckAndRecord(req.Tool, req.CallerID, override); err != nil {
			// Quota rejections on registered tools count as failed attempts.
			if resolveErr == nil {
				d.stats.Record(req.Tool, false, 0)
			}
			return d.failure(span, req, start, err)
		}
	}

	if resolveErr != nil {
		// Unknown tool: no stats entry exists, none is created.
		return d.failure(span, req, start, resolveErr)
	}

	if err := tool.ValidateArgs(spec, req.Params); err != nil {
		d.stats.Record(req.Tool, false, 0)
		return d.failure(span, req, start, err)
	}
	args := tool.ApplyDefaults(spec, req.Params)

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	if err := d.governor.acquire(callCtx); err != nil {
		gwErr := d.interruptError(req.Tool, err)
		d.stats.Record(req.Tool, false, time.Since(start))
		return d.failure(span, req, start, gwErr)
	}
	release := sync.OnceFunc(d.governor.release)

	type handlerOut struct {
		payload any
		err     error
	}
	done := make(chan handlerOut, 1)

	// The goroutine owns slot release on the happy path; the timeout path
	// below releases early so an abandoned handler cannot pin a slot.
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOut{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		payload, err := handler(callCtx, args, req.CallerID)
		done <- handlerOut{payload: payload, err: err}
	}()

	var result *Result
	select {
	case out := <-done:
		duration := time.Since(start)
		if out.err != nil {
			gwErr := gwerrors.NewToolExecutionError(req.Tool, out.err)
			d.stats.Record(req.Tool, false, duration)
			result = d.failure(span, req, start, gwErr)
		} else {
			d.stats.Record(req.Tool, true, duration)
			result = &Result{
				Success:     true,
				Payload:     out.payload,
				Duration:    duration,
				CompletedAt: time.Now(),
				RequestID:   req.RequestID,
				SessionID:   req.SessionID,
				CallerID:    req.CallerID,
			}
		}
	case <-callCtx.Done():
		release()
		gwErr := d.interruptError(req.Tool, callCtx.Err())
		d.stats.Record(req.Tool, false, time.Since(start))
		result = d.failure(span, req, start, gwErr)
	}

	d.sessions.Touch(req.SessionID, req.CallerID)
	return result
}

// ExecuteAsync schedules the same pipeline on its own goroutine and
// immediately returns the request and session ids as an opaque handle pair.
// The call's lifetime is detached from the submitting context: it is bounded
// by the per-call timeout and by Cancel.
func (d *Dispatcher) ExecuteAsync(req Request) (requestID, sessionID string) {
	req = normalize(req)
	callCtx, cancel := context.WithCancel(context.Background())
	call := d.pending.add(req.RequestID, cancel)

	async.Go(d.logger, "async-"+req.Tool, func() {
		defer cancel()
		result := d.Execute(callCtx, req)
		d.pending.complete(call, result)
	})
	return req.RequestID, req.SessionID
}

// AwaitResult blocks until the async call completes, up to timeout. A
// timeout <= 0 waits indefinitely. The handle stays valid after a
// successful await so a later Cancel still reports true once.
func (d *Dispatcher) AwaitResult(requestID string, timeout time.Duration) (*Result, error) {
	call, ok := d.pending.get(requestID)
	if !ok {
		return nil, gwerrors.NewHandleNotFound(requestID)
	}
	if timeout <= 0 {
		<-call.done
		return call.result, nil
	}
	select {
	case <-call.done:
		return call.result, nil
	case <-time.After(timeout):
		return nil, gwerrors.NewAwaitTimeout(requestID, timeout)
	}
}

// Cancel attempts cooperative cancellation of an async call and removes its
// handle. Returns true the first time a known handle is cancelled, false
// once the handle is gone.
func (d *Dispatcher) Cancel(requestID string) bool {
	return d.pending.cancelAndRemove(requestID)
}

// interruptError maps a context failure during admission or execution to
// the taxonomy: deadline expiry is a tool timeout, anything else is a
// wrapped execution error (cooperative cancellation).
func (d *Dispatcher) interruptError(toolName string, cause error) *gwerrors.GatewayError {
	if errors.Is(cause, context.DeadlineExceeded) {
		return gwerrors.NewToolTimeout(toolName, d.callTimeout)
	}
	return gwerrors.NewToolExecutionError(toolName, cause)
}

func (d *Dispatcher) failure(span trace.Span, req Request, start time.Time, err error) *Result {
	span.SetStatus(codes.Error, err.Error())

	result := &Result{
		Success:     false,
		Error:       err.Error(),
		Duration:    time.Since(start),
		CompletedAt: time.Now(),
		RequestID:   req.RequestID,
		SessionID:   req.SessionID,
		CallerID:    req.CallerID,
	}
	if gwErr, ok := gwerrors.As(err); ok {
		result.ErrorCode = gwErr.Code
		result.ErrorDetail = gwErr.Details
	}
	d.logger.Debug("dispatch %s for %s failed: %v", req.Tool, req.CallerID, err)
	return result
}
