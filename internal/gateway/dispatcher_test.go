package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	gwerrors "vita/internal/errors"
	"vita/internal/logging"
	"vita/internal/ratelimit"
	"vita/internal/session"
	"vita/internal/stats"
	"vita/internal/tool"
)

type testEnv struct {
	dispatcher *Dispatcher
	catalog    *tool.Catalog
	sessions   *session.Tracker
	stats      *stats.Collector
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger := logging.OrNop(nil)
	env := &testEnv{
		catalog:  tool.NewCatalog(logger),
		sessions: session.NewTracker(session.TrackerConfig{}, logger),
		stats:    stats.NewCollector(prometheus.NewRegistry()),
	}
	env.dispatcher = New(env.catalog, ratelimit.New(ratelimit.Config{}), env.sessions, env.stats, logger, opts)
	t.Cleanup(env.dispatcher.Close)
	return env
}

func echoTool(name string) *tool.Tool {
	return &tool.Tool{
		Name:        name,
		Description: "echoes its arguments back",
		Category:    tool.CategoryAnalysis,
		Version:     "1.0.0",
		Parameters: []tool.ParameterSpec{
			{Name: "message", Type: tool.TypeString, Required: true},
		},
		Required: []string{"message"},
	}
}

func echoHandler(_ context.Context, args map[string]any, _ string) (any, error) {
	return args["message"], nil
}

func TestExecutePipelineSuccess(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitEnabled: true})
	if err := env.catalog.Register(echoTool("echo"), echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := env.dispatcher.Execute(context.Background(), Request{
		Tool:      "echo",
		Params:    map[string]any{"message": "hello"},
		CallerID:  "alice",
		SessionID: "s-1",
	})
	if !res.Success {
		t.Fatalf("expected success, got error %q (%s)", res.Error, res.ErrorCode)
	}
	if res.Payload != "hello" {
		t.Fatalf("payload = %v, want hello", res.Payload)
	}
	if res.SessionID != "s-1" || res.CallerID != "alice" {
		t.Fatalf("identity not echoed: session=%q caller=%q", res.SessionID, res.CallerID)
	}
	if res.RequestID == "" {
		t.Fatal("request id not assigned")
	}

	usage, ok := env.stats.Get("echo")
	if !ok || usage.TotalCalls != 1 || usage.Succeeded != 1 {
		t.Fatalf("usage = %+v, want one successful call", usage)
	}
	if _, ok := env.sessions.Get("s-1"); !ok {
		t.Fatal("session was not created by dispatch")
	}
}

func TestExecuteUnknownToolRecordsNothing(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitEnabled: true})

	res := env.dispatcher.Execute(context.Background(), Request{Tool: "ghost", CallerID: "alice"})
	if res.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if res.ErrorCode != gwerrors.CodeToolNotFound {
		t.Fatalf("error code = %s, want %s", res.ErrorCode, gwerrors.CodeToolNotFound)
	}
	if _, ok := env.stats.Get("ghost"); ok {
		t.Fatal("unknown tool must not acquire a usage record")
	}
}

func TestExecuteInvalidParamsNeverInvokesHandler(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitEnabled: true})
	var invoked atomic.Int64
	spec := echoTool("echo")
	if err := env.catalog.Register(spec, func(context.Context, map[string]any, string) (any, error) {
		invoked.Add(1)
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := env.dispatcher.Execute(context.Background(), Request{Tool: "echo", CallerID: "alice"})
	if res.Success {
		t.Fatal("expected validation failure")
	}
	if res.ErrorCode != gwerrors.CodeInvalidParameters {
		t.Fatalf("error code = %s, want %s", res.ErrorCode, gwerrors.CodeInvalidParameters)
	}
	if got := invoked.Load(); got != 0 {
		t.Fatalf("handler invoked %d times despite invalid params", got)
	}
	usage, ok := env.stats.Get("echo")
	if !ok || usage.Failed != 1 {
		t.Fatalf("usage = %+v, want one failed call", usage)
	}
}

func TestExecuteDefaultsApplied(t *testing.T) {
	env := newTestEnv(t, Options{})
	spec := echoTool("portion")
	spec.Parameters = append(spec.Parameters, tool.ParameterSpec{
		Name: "servings", Type: tool.TypeFloat, Default: 1.5,
	})
	var seen atomic.Value
	if err := env.catalog.Register(spec, func(_ context.Context, args map[string]any, _ string) (any, error) {
		seen.Store(args["servings"])
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := env.dispatcher.Execute(context.Background(), Request{
		Tool:   "portion",
		Params: map[string]any{"message": "x"},
	})
	if !res.Success {
		t.Fatalf("execute: %s", res.Error)
	}
	if got := seen.Load(); got != 1.5 {
		t.Fatalf("default not applied, handler saw servings=%v", got)
	}
}

func TestExecuteUnboundToolUsesDefaultHandler(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.catalog.Register(echoTool("stub"), nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := env.dispatcher.Execute(context.Background(), Request{
		Tool:   "stub",
		Params: map[string]any{"message": "x"},
	})
	if !res.Success {
		t.Fatalf("default handler must succeed, got %s", res.Error)
	}
	payload, ok := res.Payload.(map[string]any)
	if !ok || payload["implemented"] != false {
		t.Fatalf("payload = %#v, want implemented=false marker", res.Payload)
	}
}

func TestExecuteRateLimitPerToolOverride(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitEnabled: true})
	spec := echoTool("scarce")
	spec.RateLimitPerMinute = 2
	if err := env.catalog.Register(spec, echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := Request{Tool: "scarce", Params: map[string]any{"message": "x"}, CallerID: "alice"}
	for i := 0; i < 2; i++ {
		if res := env.dispatcher.Execute(context.Background(), req); !res.Success {
			t.Fatalf("call %d: %s", i+1, res.Error)
		}
	}
	res := env.dispatcher.Execute(context.Background(), req)
	if res.Success {
		t.Fatal("third call should exceed the per-tool quota")
	}
	if res.ErrorCode != gwerrors.CodeRateLimitExceeded {
		t.Fatalf("error code = %s, want %s", res.ErrorCode, gwerrors.CodeRateLimitExceeded)
	}
	if _, ok := res.ErrorDetail["retry_after_seconds"]; !ok {
		t.Fatalf("detail = %v, want retry_after_seconds", res.ErrorDetail)
	}

	// Quota rejections on a registered tool count against its stats.
	usage, _ := env.stats.Get("scarce")
	if usage.Failed != 1 || usage.TotalCalls != 3 {
		t.Fatalf("usage = %+v, want 3 calls with 1 failure", usage)
	}

	// Another caller has an independent window.
	other := req
	other.CallerID = "bob"
	if res := env.dispatcher.Execute(context.Background(), other); !res.Success {
		t.Fatalf("independent caller rejected: %s", res.Error)
	}
}

func TestExecuteRateLimitDisabled(t *testing.T) {
	env := newTestEnv(t, Options{RateLimitEnabled: false})
	spec := echoTool("free")
	spec.RateLimitPerMinute = 1
	if err := env.catalog.Register(spec, echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	req := Request{Tool: "free", Params: map[string]any{"message": "x"}}
	for i := 0; i < 5; i++ {
		if res := env.dispatcher.Execute(context.Background(), req); !res.Success {
			t.Fatalf("call %d rejected with limiting disabled: %s", i+1, res.Error)
		}
	}
}

func TestGovernorBoundsConcurrency(t *testing.T) {
	env := newTestEnv(t, Options{MaxConcurrent: 2})
	var active, peak atomic.Int64
	spec := echoTool("slow")
	if err := env.catalog.Register(spec, func(context.Context, map[string]any, string) (any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		active.Add(-1)
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var wg sync.WaitGroup
	req := Request{Tool: "slow", Params: map[string]any{"message": "x"}}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := env.dispatcher.Execute(context.Background(), req); !res.Success {
				t.Errorf("execute: %s", res.Error)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency %d exceeded bound 2", got)
	}
	if got := env.dispatcher.InFlight(); got != 0 {
		t.Fatalf("in-flight = %d after completion, want 0", got)
	}
}

func TestExecuteTimeoutReleasesSlot(t *testing.T) {
	env := newTestEnv(t, Options{MaxConcurrent: 1, CallTimeout: 150 * time.Millisecond})
	if err := env.catalog.Register(echoTool("stuck"), func(ctx context.Context, _ map[string]any, _ string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := env.catalog.Register(echoTool("quick"), echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	start := time.Now()
	res := env.dispatcher.Execute(context.Background(), Request{
		Tool:   "stuck",
		Params: map[string]any{"message": "x"},
	})
	elapsed := time.Since(start)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.ErrorCode != gwerrors.CodeToolTimeout {
		t.Fatalf("error code = %s, want %s", res.ErrorCode, gwerrors.CodeToolTimeout)
	}
	if elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timed-out call returned after %v, want ~150ms", elapsed)
	}

	// The abandoned slot must be free for the next call.
	if res := env.dispatcher.Execute(context.Background(), Request{
		Tool:   "quick",
		Params: map[string]any{"message": "x"},
	}); !res.Success {
		t.Fatalf("slot not released after timeout: %s", res.Error)
	}

	usage, _ := env.stats.Get("stuck")
	if usage.Failed != 1 {
		t.Fatalf("usage = %+v, want timeout counted as failure", usage)
	}
}

func TestExecuteHandlerErrorAndPanic(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.catalog.Register(echoTool("fails"), func(context.Context, map[string]any, string) (any, error) {
		return nil, context.Canceled
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := env.catalog.Register(echoTool("panics"), func(context.Context, map[string]any, string) (any, error) {
		panic("boom")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	params := map[string]any{"message": "x"}
	res := env.dispatcher.Execute(context.Background(), Request{Tool: "fails", Params: params})
	if res.Success || res.ErrorCode != gwerrors.CodeToolExecutionError {
		t.Fatalf("handler error: success=%v code=%s", res.Success, res.ErrorCode)
	}

	res = env.dispatcher.Execute(context.Background(), Request{Tool: "panics", Params: params})
	if res.Success || res.ErrorCode != gwerrors.CodeToolExecutionError {
		t.Fatalf("handler panic: success=%v code=%s", res.Success, res.ErrorCode)
	}
	if env.dispatcher.InFlight() != 0 {
		t.Fatal("panicking handler leaked a concurrency slot")
	}
}

func TestExecuteAsyncAwait(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.catalog.Register(echoTool("echo"), echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	requestID, sessionID := env.dispatcher.ExecuteAsync(Request{
		Tool:     "echo",
		Params:   map[string]any{"message": "later"},
		CallerID: "alice",
	})
	if requestID == "" || sessionID == "" {
		t.Fatal("async submit returned empty handle")
	}

	res, err := env.dispatcher.AwaitResult(requestID, 2*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !res.Success || res.Payload != "later" {
		t.Fatalf("result = %+v", res)
	}

	// The handle survives a successful await.
	if res2, err := env.dispatcher.AwaitResult(requestID, time.Second); err != nil || res2 != res {
		t.Fatalf("second await = (%v, %v), want cached result", res2, err)
	}
}

func TestAwaitUnknownHandle(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.dispatcher.AwaitResult("no-such-handle", time.Second)
	if !gwerrors.HasCode(err, gwerrors.CodeNotFound) {
		t.Fatalf("await unknown = %v, want %s", err, gwerrors.CodeNotFound)
	}
}

func TestAwaitTimesOutWhileRunning(t *testing.T) {
	env := newTestEnv(t, Options{CallTimeout: 5 * time.Second})
	if err := env.catalog.Register(echoTool("slow"), func(ctx context.Context, _ map[string]any, _ string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	requestID, _ := env.dispatcher.ExecuteAsync(Request{Tool: "slow", Params: map[string]any{"message": "x"}})
	_, err := env.dispatcher.AwaitResult(requestID, 50*time.Millisecond)
	if !gwerrors.HasCode(err, gwerrors.CodeTimeout) {
		t.Fatalf("await = %v, want %s", err, gwerrors.CodeTimeout)
	}
	if !env.dispatcher.Cancel(requestID) {
		t.Fatal("cancel of live handle should report true")
	}
}

func TestAwaitWaiterWakesAfterCancel(t *testing.T) {
	env := newTestEnv(t, Options{CallTimeout: 10 * time.Second})
	started := make(chan struct{})
	if err := env.catalog.Register(echoTool("slow"), func(ctx context.Context, _ map[string]any, _ string) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	requestID, _ := env.dispatcher.ExecuteAsync(Request{Tool: "slow", Params: map[string]any{"message": "x"}})
	<-started

	// Park a waiter with an indefinite wait before cancelling.
	type awaitOut struct {
		res *Result
		err error
	}
	waited := make(chan awaitOut, 1)
	entered := make(chan struct{})
	go func() {
		close(entered)
		res, err := env.dispatcher.AwaitResult(requestID, 0)
		waited <- awaitOut{res: res, err: err}
	}()
	<-entered
	time.Sleep(50 * time.Millisecond)

	if !env.dispatcher.Cancel(requestID) {
		t.Fatal("cancel of live handle should report true")
	}

	select {
	case out := <-waited:
		if out.err != nil {
			t.Fatalf("await after cancel: %v", out.err)
		}
		if out.res.Success {
			t.Fatal("cancelled call reported success")
		}
		if out.res.ErrorCode != gwerrors.CodeToolExecutionError {
			t.Fatalf("error code = %s, want %s", out.res.ErrorCode, gwerrors.CodeToolExecutionError)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter still blocked after cancel completed the call")
	}
}

func TestCancelIdempotence(t *testing.T) {
	env := newTestEnv(t, Options{CallTimeout: 5 * time.Second})
	if err := env.catalog.Register(echoTool("slow"), func(ctx context.Context, _ map[string]any, _ string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	requestID, _ := env.dispatcher.ExecuteAsync(Request{Tool: "slow", Params: map[string]any{"message": "x"}})
	if !env.dispatcher.Cancel(requestID) {
		t.Fatal("first cancel = false, want true")
	}
	if env.dispatcher.Cancel(requestID) {
		t.Fatal("second cancel = true, want false")
	}
	if _, err := env.dispatcher.AwaitResult(requestID, time.Second); !gwerrors.HasCode(err, gwerrors.CodeNotFound) {
		t.Fatalf("await after cancel = %v, want handle gone", err)
	}
}

func TestEvictedSessionRecreatedOnDispatch(t *testing.T) {
	logger := logging.OrNop(nil)
	catalog := tool.NewCatalog(logger)
	sessions := session.NewTracker(session.TrackerConfig{IdleTimeout: time.Nanosecond}, logger)
	d := New(catalog, ratelimit.New(ratelimit.Config{}), sessions, stats.NewCollector(prometheus.NewRegistry()), logger, Options{})
	t.Cleanup(d.Close)

	if err := catalog.Register(echoTool("echo"), echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := Request{Tool: "echo", Params: map[string]any{"message": "x"}, SessionID: "s-1"}
	if res := d.Execute(context.Background(), req); !res.Success {
		t.Fatalf("execute: %s", res.Error)
	}
	time.Sleep(time.Millisecond)
	if evicted := sessions.Sweep(); evicted != 1 {
		t.Fatalf("sweep evicted %d, want 1", evicted)
	}
	if _, ok := sessions.Get("s-1"); ok {
		t.Fatal("session survived sweep")
	}

	// A dispatch referencing the evicted id recreates it fresh.
	if res := d.Execute(context.Background(), req); !res.Success {
		t.Fatalf("execute after eviction: %s", res.Error)
	}
	sess, ok := sessions.Get("s-1")
	if !ok {
		t.Fatal("session not recreated")
	}
	if sess.CallCount > 2 {
		t.Fatalf("recreated session inherited history: calls=%d", sess.CallCount)
	}
}

func TestSessionRefreshedOnEveryDispatch(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.catalog.Register(echoTool("echo"), echoHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	req := Request{Tool: "echo", Params: map[string]any{"message": "x"}, SessionID: "s-1", CallerID: "alice"}
	for i := 0; i < 3; i++ {
		if res := env.dispatcher.Execute(context.Background(), req); !res.Success {
			t.Fatalf("execute: %s", res.Error)
		}
	}
	sess, ok := env.sessions.Get("s-1")
	if !ok {
		t.Fatal("session missing")
	}
	// Touched on entry and on completion of each dispatch.
	if sess.CallCount < 3 {
		t.Fatalf("call count = %d, want >= 3", sess.CallCount)
	}
}
