// Package server wires the transport, protocol, router, and capture
// engine into the serving loop.
//
// Flow per frame:
//
//	transport reads raw bytes -> capture records (pre-dispatch) ->
//	protocol validates -> router dispatches -> response frame built ->
//	transport writes -> capture records the outbound frame and completes
//	the lineage.
//
// Startup strategy (fast init for the MCP handshake): the transport comes
// up synchronously so initialize can be answered within milliseconds,
// while the persistence sink initializes in a background goroutine that is
// awaited lazily, only before a tools/call, never before the handshake or
// listing calls.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrypster/cogwire/internal/capture"
	"github.com/scrypster/cogwire/internal/config"
	"github.com/scrypster/cogwire/internal/protocol"
	"github.com/scrypster/cogwire/internal/router"
	"github.com/scrypster/cogwire/internal/transport"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateServing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Sink is the orchestrator's view of the persistence layer: store events,
// close (flushing session finalization) at shutdown.
type Sink interface {
	capture.EventSink
	Close(ctx context.Context) error
}

// SinkFactory opens the persistence sink. It runs on the background init
// goroutine and must honor ctx cancellation.
type SinkFactory func(ctx context.Context) (Sink, error)

// closeTimeout bounds sink finalization at shutdown.
const closeTimeout = 5 * time.Second

// Server is the main orchestrator.
type Server struct {
	cfg       *config.Config
	engine    *capture.Engine
	router    *router.Router
	transport *transport.Stdio

	sinkFactory SinkFactory

	mu        sync.Mutex
	sink      Sink
	sinkReady chan struct{}
	sinkErr   error

	initCancel context.CancelFunc
	initDone   chan struct{}

	state    atomic.Int32
	stopOnce sync.Once

	log *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStreams replaces the default stdin/stdout pair; used by tests to
// serve over in-memory pipes.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(s *Server) {
		s.transport = transport.New(in, out, s.captureHook())
	}
}

// WithSinkFactory injects the persistence sink constructor. Without it the
// server runs capture-in-memory only.
func WithSinkFactory(f SinkFactory) Option {
	return func(s *Server) { s.sinkFactory = f }
}

// WithEnricher attaches the enrichment hook to the capture engine.
func WithEnricher(e capture.Enricher) Option {
	return func(s *Server) { s.engine.SetEnricher(e) }
}

// WithObserver registers a capture observer callback.
func WithObserver(cb capture.Observer) Option {
	return func(s *Server) { s.engine.OnEvent(cb) }
}

// New creates a server reading frames from stdin and writing to stdout.
// Tool and resource registration must happen before Run.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    capture.NewEngine(),
		router:    router.New(config.ServerName, config.ServerVersion, config.ProtocolVersion),
		sinkReady: make(chan struct{}),
		initDone:  make(chan struct{}),
		log:       log.New(os.Stderr, "cogwire-server: ", log.LstdFlags),
	}
	s.transport = transport.New(os.Stdin, os.Stdout, s.captureHook())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// captureHook adapts the engine's Capture method to the transport hook.
func (s *Server) captureHook() transport.CaptureFunc {
	return func(raw []byte, frame *protocol.Frame, ts int64, dir capture.Direction, parentHint, errText string) {
		s.engine.Capture(raw, frame, ts, dir, parentHint, errText)
	}
}

// Engine exposes the capture engine for registration-time wiring and
// diagnostics.
func (s *Server) Engine() *capture.Engine { return s.engine }

// RegisterTools registers a tools module with the router. Call before Run.
func (s *Server) RegisterTools(tools []protocol.Tool, handler router.ToolHandler) {
	s.router.RegisterTools(tools, handler)
}

// RegisterResources registers a resources provider with the router.
func (s *Server) RegisterResources(resources []protocol.Resource, provider router.ResourceProvider) {
	s.router.RegisterResources(resources, provider)
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Run starts the server and processes frames until EOF on the input
// stream or ctx cancellation; both paths converge on the same shutdown
// routine. Run returns after shutdown completes.
func (s *Server) Run(ctx context.Context) error {
	s.log.Printf("starting %s v%s", config.ServerName, config.ServerVersion)

	// Transport must be up before the first read; a failure here is fatal.
	if err := s.transport.Start(); err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("server: transport start: %w", err)
	}

	// Slow resources initialize in the background; the handshake never
	// waits for them.
	initCtx, cancel := context.WithCancel(context.Background())
	s.initCancel = cancel
	go s.initSink(initCtx)

	s.state.Store(int32(StateServing))
	s.log.Printf("ready: tools=%d resources=%d (sink initializing in background)",
		s.router.ToolCount(), s.router.ResourceCount())

	for s.State() == StateServing {
		select {
		case <-ctx.Done():
			s.log.Println("stop signal, shutting down")
			s.Shutdown()
			return nil
		default:
		}

		frame, err := s.transport.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				s.log.Println("EOF on input, shutting down")
			} else {
				s.log.Printf("read error: %v, shutting down", err)
			}
			break
		}
		if frame == nil {
			// Malformed line: recorded by the capture hook, never dispatched.
			continue
		}

		if fatal := s.handleFrame(ctx, frame); fatal {
			break
		}
	}

	s.Shutdown()
	return nil
}

// handleFrame runs one frame through validate -> (lazy sink await) ->
// route -> respond. Every stage's failure becomes a protocol error
// response when the frame carries an id, or is silently dropped when it
// does not (no response id, no response possible). The returned flag is
// true only for transport write failures, which are fatal.
func (s *Server) handleFrame(ctx context.Context, frame *protocol.Frame) (fatal bool) {
	kind, err := protocol.Validate(frame)
	if err != nil {
		return s.respondError(frame, err)
	}

	// Tool invocations are the only path that waits for background init.
	if frame.Method == "tools/call" {
		s.awaitSinkReady(ctx)
	}

	result, err := s.router.Dispatch(ctx, kind, frame)
	if err != nil {
		return s.respondError(frame, err)
	}
	if result == nil {
		// Notifications produce no response, ever.
		return false
	}

	resp, err := protocol.MakeResponse(frame.ID, result)
	if err != nil {
		return s.respondError(frame, err)
	}
	if err := s.transport.WriteFrame(resp, frame.CorrelationID()); err != nil {
		s.log.Printf("fatal write error: %v", err)
		return true
	}
	return false
}

// respondError writes a protocol error response when the frame has an id.
func (s *Server) respondError(frame *protocol.Frame, err error) (fatal bool) {
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		pe = protocol.NewError(protocol.CodeInternalError, err.Error())
	}
	s.log.Printf("protocol error: %s (code=%d)", pe.Message, pe.Code)

	if !frame.HasID() {
		return false
	}
	resp := protocol.MakeError(frame.ID, pe.Code, pe.Message, pe.Data)
	if werr := s.transport.WriteFrame(resp, frame.CorrelationID()); werr != nil {
		s.log.Printf("fatal write error: %v", werr)
		return true
	}
	return false
}

// initSink opens the persistence sink in the background and attaches it
// to the capture engine. A failure is logged and the server keeps serving
// without persistence; tools that need it report the degraded state as a
// tool-level error.
func (s *Server) initSink(ctx context.Context) {
	defer close(s.initDone)
	defer close(s.sinkReady)

	if s.sinkFactory == nil {
		return
	}

	sink, err := s.sinkFactory(ctx)
	if err != nil {
		s.mu.Lock()
		s.sinkErr = err
		s.mu.Unlock()
		s.log.Printf("background sink init failed: %v", err)
		return
	}

	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	s.engine.SetSink(sink)
	s.log.Println("persistence sink ready")
}

// awaitSinkReady blocks until background init finishes (success or
// failure) or ctx is done. Only the tools/call path comes through here.
func (s *Server) awaitSinkReady(ctx context.Context) {
	select {
	case <-s.sinkReady:
	case <-ctx.Done():
	}
}

// SinkError reports the background init failure, if any.
func (s *Server) SinkError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkErr
}

// Shutdown cancels background init, closes the transport, drains the
// capture queue, and closes the sink (finalizing the session it tracks).
// Idempotent: the second call is a no-op.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateStopping))
		s.log.Printf("shutting down: captured %d events, %d turns",
			s.engine.EventCount(), s.engine.TurnCount())

		if s.initCancel != nil {
			s.initCancel()
			<-s.initDone
		}

		_ = s.transport.Close()
		s.engine.Close()

		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			if err := sink.Close(ctx); err != nil {
				s.log.Printf("sink close error: %v", err)
			}
			cancel()
		}

		s.state.Store(int32(StateStopped))
		s.log.Println("server stopped")
	})
}
