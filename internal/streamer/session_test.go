package streamer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/streamer/domain/repositories"
)

type fakeEvent struct {
	resp *repositories.StreamResponse
	err  error
}

type fakeStream struct {
	ctx    context.Context
	events chan fakeEvent

	mu         sync.Mutex
	sent       []*repositories.StreamRequest
	closeSends int
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx:    ctx,
		events: make(chan fakeEvent, 16),
	}
}

func (f *fakeStream) Send(req *repositories.StreamRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*repositories.StreamResponse, error) {
	select {
	case ev, ok := <-f.events:
		if !ok {
			return nil, io.EOF
		}
		return ev.resp, ev.err
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSends++
	return nil
}

func (f *fakeStream) sentRequests() []*repositories.StreamRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*repositories.StreamRequest(nil), f.sent...)
}

func (f *fakeStream) closeSendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeSends
}

func (f *fakeStream) push(resp *repositories.StreamResponse) {
	f.events <- fakeEvent{resp: resp}
}

func (f *fakeStream) end() {
	close(f.events)
}

type fakeClient struct {
	mu      sync.Mutex
	streams []*fakeStream
	openErr error
	closed  bool
}

func (c *fakeClient) OpenStream(ctx context.Context) (repositories.DuplexStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	stream := newFakeStream(ctx)
	c.streams = append(c.streams, stream)
	return stream, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) stream(i int) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[i]
}

type fakeFactory struct {
	client  *fakeClient
	err     error
	created int
	opts    []repositories.ClientOptions
}

func (f *fakeFactory) NewClient(ctx context.Context, opts repositories.ClientOptions) (repositories.RecognitionClient, error) {
	f.created++
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type recorder struct {
	mu       sync.Mutex
	messages []*repositories.StreamResponse
	errs     []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(resp *repositories.StreamResponse) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, resp)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func finalResponse(text string) *repositories.StreamResponse {
	return &repositories.StreamResponse{
		RecognitionResult: &repositories.RecognitionResult{Transcript: text, IsFinal: true},
	}
}

func interimResponse(text string) *repositories.StreamResponse {
	return &repositories.StreamResponse{
		RecognitionResult: &repositories.RecognitionResult{Transcript: text},
	}
}

func setupTestSession(t *testing.T, debug bool, handlers Handlers) (*StreamSession, *fakeFactory, string) {
	t.Helper()

	debugFile := filepath.Join(t.TempDir(), DefaultDebugFile)
	factory := &fakeFactory{client: &fakeClient{}}
	session := NewStreamSession(factory, handlers, "session-1", debug,
		WithLogger(zaptest.NewLogger(t)),
		WithDebugFile(debugFile),
		WithCredentialResolver(func() string { return "/secrets/key.json" }),
	)
	t.Cleanup(func() {
		session.Close()
		session.Wait()
	})

	return session, factory, debugFile
}

func TestStreamSession_WriteThenStop(t *testing.T) {
	session, factory, debugFile := setupTestSession(t, false, Handlers{})

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Write([]byte("audio"))
	session.Stop()

	stream := factory.client.stream(0)
	sent := stream.sentRequests()
	if len(sent) != 2 {
		t.Fatalf("Expected 2 messages sent, got %d", len(sent))
	}
	if sent[0].Handshake == nil {
		t.Fatal("Expected first message to be the handshake")
	}
	if sent[0].Handshake.SessionID != "session-1" || sent[0].Handshake.ProjectID != "p1" {
		t.Errorf("Unexpected handshake: %+v", sent[0].Handshake)
	}
	if !bytes.Equal(sent[1].InputAudio, []byte("audio")) {
		t.Errorf("Expected audio message, got %+v", sent[1])
	}
	if stream.closeSendCount() != 1 {
		t.Errorf("Expected stream to be ended once, got %d", stream.closeSendCount())
	}

	if _, err := os.Stat(debugFile); !os.IsNotExist(err) {
		t.Errorf("Expected no debug file without debug mode, got err %v", err)
	}

	if factory.opts[0].ProjectID != "p1" || factory.opts[0].CredentialPath != "/secrets/key.json" {
		t.Errorf("Unexpected client options: %+v", factory.opts[0])
	}
}

func TestStreamSession_FinalResultStopsAndRecordsDebug(t *testing.T) {
	rec := &recorder{}
	session, factory, debugFile := setupTestSession(t, true, rec.handlers())

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Write([]byte("b1"))
	session.Write([]byte("b2"))

	stream := factory.client.stream(0)
	stream.push(finalResponse("halo"))
	stream.end()
	session.Wait()

	data, err := os.ReadFile(debugFile)
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	if string(data) != "b1b2" {
		t.Errorf("Expected debug file b1b2, got %q", data)
	}

	if stream.closeSendCount() != 1 {
		t.Errorf("Expected stream to be ended once, got %d", stream.closeSendCount())
	}
	if session.State() != StateInactive {
		t.Errorf("Expected state %s, got %s", StateInactive, session.State())
	}
	if len(rec.messages) != 1 {
		t.Errorf("Expected 1 message delivered, got %d", len(rec.messages))
	}
}

func TestStreamSession_WriteAfterStopIsIgnored(t *testing.T) {
	session, factory, debugFile := setupTestSession(t, true, Handlers{})

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Stop()

	for i := 0; i < 3; i++ {
		session.Write([]byte("late"))
	}

	if sent := factory.client.stream(0).sentRequests(); len(sent) != 1 {
		t.Errorf("Expected only the handshake to be sent, got %d messages", len(sent))
	}

	data, err := os.ReadFile(debugFile)
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected empty debug file, got %q", data)
	}
}

func TestStreamSession_WriteBeforeStartIsIgnored(t *testing.T) {
	session, factory, _ := setupTestSession(t, false, Handlers{})

	session.Write([]byte("early"))

	if factory.created != 0 {
		t.Errorf("Expected no client to be created, got %d", factory.created)
	}
	if session.State() != StateUninitialized {
		t.Errorf("Expected state %s, got %s", StateUninitialized, session.State())
	}
}

func TestStreamSession_StopIsIdempotent(t *testing.T) {
	session, factory, _ := setupTestSession(t, true, Handlers{})

	// Never started.
	for i := 0; i < 3; i++ {
		session.Stop()
	}
	if !session.ended || session.stream != nil || session.debugSink != nil {
		t.Error("Stop on a fresh session should leave it ended without sinks")
	}

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		session.Stop()
	}

	if !session.ended || session.stream != nil || session.debugSink != nil {
		t.Error("Repeated Stop should leave the session ended without sinks")
	}
	if count := factory.client.stream(0).closeSendCount(); count != 1 {
		t.Errorf("Expected stream to be ended once, got %d", count)
	}
}

func TestStreamSession_FinalResultWithHandlerStop(t *testing.T) {
	var session *StreamSession
	messages := 0
	handlers := Handlers{
		OnMessage: func(resp *repositories.StreamResponse) {
			messages++
			session.Stop()
		},
	}
	session, factory, _ := setupTestSession(t, true, handlers)

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream := factory.client.stream(0)
	stream.push(finalResponse("halo"))
	stream.end()
	session.Wait()

	if messages != 1 {
		t.Errorf("Expected handler to run once, got %d", messages)
	}
	if stream.closeSendCount() != 1 {
		t.Errorf("Expected stream to be ended once, got %d", stream.closeSendCount())
	}
}

func TestStreamSession_NonFinalResultKeepsStreaming(t *testing.T) {
	rec := &recorder{}
	session, factory, _ := setupTestSession(t, false, rec.handlers())

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream := factory.client.stream(0)
	stream.push(interimResponse("ha"))
	stream.push(&repositories.StreamResponse{ResponseID: "no-result"})
	stream.push(&repositories.StreamResponse{
		QueryResult: &repositories.QueryResult{QueryText: "halo"},
	})
	stream.end()
	session.Wait()

	if session.State() != StateActive {
		t.Fatalf("Expected state %s, got %s", StateActive, session.State())
	}
	if len(rec.messages) != 3 {
		t.Errorf("Expected 3 messages delivered, got %d", len(rec.messages))
	}

	session.Write([]byte("more"))
	sent := stream.sentRequests()
	if len(sent) != 2 || !bytes.Equal(sent[1].InputAudio, []byte("more")) {
		t.Errorf("Expected audio to reach the stream, got %d messages", len(sent))
	}
}

func TestStreamSession_RestartReusesClient(t *testing.T) {
	session, factory, debugFile := setupTestSession(t, true, Handlers{})
	ctx := context.Background()

	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Write([]byte("first-cycle"))
	session.Stop()

	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p2"}); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	session.Write([]byte("second"))
	session.Stop()

	if factory.created != 1 {
		t.Errorf("Expected exactly 1 client construction, got %d", factory.created)
	}
	if factory.opts[0].ProjectID != "p1" {
		t.Errorf("Expected client bound to p1, got %s", factory.opts[0].ProjectID)
	}

	first, second := factory.client.stream(0), factory.client.stream(1)
	if first == second {
		t.Fatal("Expected a fresh stream per start")
	}
	if sent := second.sentRequests(); len(sent) != 2 || sent[0].Handshake.ProjectID != "p2" {
		t.Errorf("Expected second stream handshake for p2, got %+v", sent)
	}

	data, err := os.ReadFile(debugFile)
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected debug file to be truncated on restart, got %q", data)
	}
}

func TestStreamSession_StaleFinalResultIsIgnored(t *testing.T) {
	session, factory, _ := setupTestSession(t, false, Handlers{})
	ctx := context.Background()

	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Stop()
	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	old, current := factory.client.stream(0), factory.client.stream(1)
	old.push(finalResponse("late"))
	old.end()
	current.end()
	session.Wait()

	if session.State() != StateActive {
		t.Errorf("Expected a late event from the old stream to leave state %s, got %s", StateActive, session.State())
	}
	if current.closeSendCount() != 0 {
		t.Errorf("Expected current stream to stay open, got %d closes", current.closeSendCount())
	}
	if old.closeSendCount() != 1 {
		t.Errorf("Expected old stream to be ended once, got %d", old.closeSendCount())
	}
}

func TestStreamSession_StartWhileActiveStopsCurrentStream(t *testing.T) {
	session, factory, _ := setupTestSession(t, false, Handlers{})
	ctx := context.Background()

	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}

	if factory.client.stream(0).closeSendCount() != 1 {
		t.Error("Expected the first stream to be ended by the second start")
	}
	if session.State() != StateActive {
		t.Errorf("Expected state %s, got %s", StateActive, session.State())
	}
}

func TestStreamSession_ErrorsAreForwarded(t *testing.T) {
	rec := &recorder{}
	session, factory, _ := setupTestSession(t, false, rec.handlers())

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	streamErr := errors.New("backend unavailable")
	stream := factory.client.stream(0)
	stream.events <- fakeEvent{err: streamErr}
	session.Wait()

	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], streamErr) {
		t.Fatalf("Expected the stream error to be forwarded, got %v", rec.errs)
	}
	if session.State() != StateActive {
		t.Errorf("Expected an error to leave state %s, got %s", StateActive, session.State())
	}
}

func TestStreamSession_StartErrors(t *testing.T) {
	clientErr := errors.New("no credentials")
	session, factory, _ := setupTestSession(t, false, Handlers{})
	factory.err = clientErr

	err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"})
	if !errors.Is(err, clientErr) {
		t.Errorf("Expected client construction error, got %v", err)
	}
	if session.State() != StateUninitialized {
		t.Errorf("Expected state %s, got %s", StateUninitialized, session.State())
	}

	openErr := errors.New("stream refused")
	factory.err = nil
	factory.client.openErr = openErr

	err = session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"})
	if !errors.Is(err, openErr) {
		t.Errorf("Expected stream open error, got %v", err)
	}
	if session.State() != StateUninitialized {
		t.Errorf("Expected state %s, got %s", StateUninitialized, session.State())
	}
}

func TestStreamSession_StreamOutlivesStartContext(t *testing.T) {
	session, factory, _ := setupTestSession(t, false, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := session.Start(ctx, repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	if err := factory.client.stream(0).ctx.Err(); err != nil {
		t.Errorf("Expected stream context to survive the start context, got %v", err)
	}
}

func TestStreamSession_Close(t *testing.T) {
	rec := &recorder{}
	session, factory, _ := setupTestSession(t, false, rec.handlers())

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	session.Wait()

	if !factory.client.closed {
		t.Error("Expected the cached client to be closed")
	}
	if len(rec.errs) != 0 {
		t.Errorf("Expected no errors after close, got %v", rec.errs)
	}
	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}

type failingWriter struct {
	closed bool
}

func (f *failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func (f *failingWriter) Close() error {
	f.closed = true
	return errors.New("disk full")
}

func TestStreamSession_DebugFailureDoesNotBlockNetwork(t *testing.T) {
	session, factory, _ := setupTestSession(t, true, Handlers{})

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.mu.Lock()
	session.debugSink.Close()
	sink := &failingWriter{}
	session.debugSink = sink
	session.mu.Unlock()

	session.Write([]byte("audio"))
	session.Stop()

	if sent := factory.client.stream(0).sentRequests(); len(sent) != 2 {
		t.Errorf("Expected audio to reach the stream, got %d messages", len(sent))
	}
	if !sink.closed || session.debugSink != nil {
		t.Error("Expected the failing debug sink to be closed and released")
	}
}

func TestStreamSession_DebugFileUnavailable(t *testing.T) {
	factory := &fakeFactory{client: &fakeClient{}}
	session := NewStreamSession(factory, Handlers{}, "session-1", true,
		WithLogger(zaptest.NewLogger(t)),
		WithDebugFile(filepath.Join(t.TempDir(), "missing-dir", DefaultDebugFile)),
	)
	t.Cleanup(func() {
		session.Close()
		session.Wait()
	})

	if err := session.Start(context.Background(), repositories.StreamConfig{ProjectID: "p1"}); err != nil {
		t.Fatalf("Expected Start to succeed without a debug file, got %v", err)
	}
	if state := session.State(); state != StateActive {
		t.Errorf("Expected state %s, got %s", StateActive, state)
	}

	session.Write([]byte("audio"))

	stream := factory.client.stream(0)
	sent := stream.sentRequests()
	if len(sent) != 2 {
		t.Fatalf("Expected handshake and audio on the stream, got %d messages", len(sent))
	}
	if string(sent[1].InputAudio) != "audio" {
		t.Errorf("Expected audio 'audio', got %q", sent[1].InputAudio)
	}
	if stream.closeSendCount() != 0 {
		t.Errorf("Expected the stream to stay open, got %d CloseSend calls", stream.closeSendCount())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUninitialized: "uninitialized",
		StateActive:        "active",
		StateInactive:      "inactive",
		State(9):           "state(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
