package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// Mock appender for testing
type mockAppender struct {
	payloads  [][]byte
	entries   []Snapshot
	err       error
	closed    bool
	callCount int
	late      int // appends received after Close
	mu        sync.Mutex
}

func newMockAppender() *mockAppender {
	return &mockAppender{payloads: make([][]byte, 0)}
}

func (m *mockAppender) Append(_ context.Context, payload []byte, entry Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.closed {
		m.late++
	}
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, payload)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAppender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockAppender) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// messagePipeline formats the message and drops entries below min
func messagePipeline(min Level) Sink[Void, []byte] {
	return Compose(
		Format("message", func(r Record[Void]) (string, bool, error) {
			return r.Entry.Label + ":" + r.Entry.Message, r.Entry.Level >= min, nil
		}),
		Bytes(),
	)
}

func TestHandlerLog(t *testing.T) {
	appender := newMockAppender()
	handler := NewHandler("test", messagePipeline(LevelWarning), appender, WithDefaultLabel("app"))

	if err := handler.Log(context.Background(), Event{Level: LevelInfo, Message: "hidden"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := handler.Log(context.Background(), Event{Level: LevelError, Message: "shown", Label: "db"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := handler.Log(context.Background(), Event{Level: LevelCritical, Message: "default label"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	if appender.getCallCount() != 2 {
		t.Fatalf("Expected 2 appends, got %d", appender.getCallCount())
	}
	if string(appender.payloads[0]) != "db:shown" {
		t.Errorf("Expected payload db:shown, got %q", appender.payloads[0])
	}
	if string(appender.payloads[1]) != "app:default label" {
		t.Errorf("Expected payload app:default label, got %q", appender.payloads[1])
	}
	if appender.entries[0].Level != LevelError {
		t.Errorf("Expected snapshot level error, got %s", appender.entries[0].Level)
	}

	stats := handler.Stats()
	if stats.Passed != 2 || stats.Dropped != 1 || stats.Failed != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestHandlerReturnsPipelineFailure(t *testing.T) {
	boom := errors.New("boom")
	appender := newMockAppender()
	pipeline := Try("explode", func(Record[Void]) ([]byte, error) { return nil, boom })
	handler := NewHandler("failing", pipeline, appender)

	err := handler.Log(context.Background(), Event{Level: LevelError, Message: "x"})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if appender.getCallCount() != 0 {
		t.Error("Appender should not be called for failed entries")
	}
	if handler.Stats().Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", handler.Stats().Failed)
	}
}

func TestHandlerReturnsAppenderError(t *testing.T) {
	appender := newMockAppender()
	appender.err = errors.New("disk full")
	handler := NewHandler("full", messagePipeline(LevelTrace), appender)

	err := handler.Log(context.Background(), Event{Level: LevelInfo, Message: "x"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected disk full error, got %v", err)
	}
	if stats := handler.Stats(); stats.Passed != 0 || stats.Failed != 1 {
		t.Errorf("Appender errors should count as failed, got %+v", stats)
	}
}

// silentFormatter returns without invoking its continuation
type silentFormatter struct{}

func (silentFormatter) BeforeSink(*Entry) {}

func (silentFormatter) Sink(Record[Void], Next[[]byte]) {}

func TestHandlerReportsSilentStage(t *testing.T) {
	appender := newMockAppender()
	handler := NewHandler[[]byte]("silent", silentFormatter{}, appender)

	done := make(chan error, 1)
	go func() {
		done <- handler.Log(context.Background(), Event{Level: LevelInfo, Message: "x"})
	}()

	select {
	case err := <-done:
		var cv *ContractViolation
		if !errors.As(err, &cv) {
			t.Fatalf("Expected ContractViolation, got %v", err)
		}
		if cv.Calls != 0 {
			t.Errorf("Expected 0 calls, got %d", cv.Calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a stage that never completes")
	}
	if appender.getCallCount() != 0 {
		t.Error("Appender should not be called")
	}
	if handler.Stats().Failed != 1 {
		t.Errorf("Expected 1 failure, got %d", handler.Stats().Failed)
	}
}

func TestHandlerCloseWaitsForInFlightLog(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	pipeline := Map("gated", func(r Record[Void]) []byte {
		close(started)
		<-release
		return []byte(r.Entry.Message)
	})
	appender := newMockAppender()
	handler := NewHandler("gated", pipeline, appender)

	logErr := make(chan error, 1)
	go func() {
		logErr <- handler.Log(context.Background(), Event{Level: LevelInfo, Message: "slow"})
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- handler.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while Log was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-logErr; err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	appender.mu.Lock()
	defer appender.mu.Unlock()
	if appender.callCount != 1 || appender.late != 0 {
		t.Errorf("Expected 1 append before close, got %d (%d late)", appender.callCount, appender.late)
	}
	if !appender.closed {
		t.Error("Appender should be closed")
	}
}

func TestHandlerClose(t *testing.T) {
	appender := newMockAppender()
	handler := NewHandler("closing", messagePipeline(LevelTrace), appender)

	if err := handler.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close is a no-op
	if err := handler.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !appender.closed {
		t.Error("Appender should be closed")
	}
	if err := handler.Log(context.Background(), Event{Message: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestMultiplex(t *testing.T) {
	ok := newMockAppender()
	failing := newMockAppender()
	failing.err = errors.New("unavailable")

	mux := NewMultiplex(
		NewHandler("ok", messagePipeline(LevelTrace), ok),
		NewHandler("failing", messagePipeline(LevelTrace), failing),
	)

	err := mux.Log(context.Background(), Event{Level: LevelInfo, Message: "fan"})
	if err == nil || !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("Expected aggregated error, got %v", err)
	}
	if ok.getCallCount() != 1 || failing.getCallCount() != 1 {
		t.Error("Every handler should receive the event")
	}

	if err := mux.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Error("Every appender should be closed")
	}
}

func TestAppendStage(t *testing.T) {
	appender := newMockAppender()
	pipeline := Compose(messagePipeline(LevelTrace), AppendStage[[]byte](appender))

	entry := NewEntry(LevelInfo, "direct")
	out, err := Execute(context.Background(), pipeline, entry)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !out.IsPassed() {
		t.Errorf("Expected passed outcome, got %v", out)
	}
	if string(appender.payloads[0]) != ":direct" {
		t.Errorf("Expected payload :direct, got %q", appender.payloads[0])
	}

	appender.err = errors.New("gone")
	out = Run(pipeline, Start(NewEntry(LevelInfo, "again")))
	if !out.IsFailed() {
		t.Errorf("Expected failed outcome, got %v", out)
	}
}
