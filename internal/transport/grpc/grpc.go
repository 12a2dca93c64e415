// Package grpc is the gRPC transport adapter for a session. Ported from
// original_source transport/grpc/service_tests.rs and convert_tests.rs.
//
// The teacher's own gRPC service (internal/egg) depends on a generated
// "internal/egg/pb" package built by protoc from a .proto file that was
// not part of the retrieval pack, and this module never runs the Go
// toolchain (so protoc-gen-go could not be invoked even if protoc were
// available). Rather than fabricate a stub pb package, this adapter
// registers a hand-assembled grpc.ServiceDesc against a JSON codec
// (grpc-go supports swapping the wire codec per-call via
// encoding.RegisterCodec; see jsonCodec below) so the service still
// rides real google.golang.org/grpc server/transport/interceptor code,
// just without protobuf binary framing. Documented as a deliberate
// deviation in the module's design notes.
package grpc

import (
	"context"
	"encoding/json"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/groblegark/coop-sub001/internal/coopapi"
	"github.com/groblegark/coop-sub001/internal/eventlog"
	"github.com/groblegark/coop-sub001/internal/session"
)

const codecName = "coop-json"

// jsonCodec implements grpc/encoding.Codec over encoding/json, standing
// in for the generated protobuf codec this adapter would otherwise use.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// -- wire message types (hand-written in lieu of generated protobuf) ---------

// HealthRequest is empty; health takes no parameters.
type HealthRequest struct{}

// StatusRequest is empty; status takes no parameters.
type StatusRequest struct{}

// NudgeRequest carries a freeform nudge message.
type NudgeRequest struct {
	Message string `json:"message"`
}

// RespondRequest carries a prompt resolution.
type RespondRequest struct {
	Accept  *bool                             `json:"accept,omitempty"`
	Option  *int                              `json:"option,omitempty"`
	Text    *string                           `json:"text,omitempty"`
	Answers []coopapi.TransportQuestionAnswer `json:"answers,omitempty"`
}

// SessionMsg is one frame of the bidirectional Session stream: a client
// sends Input/Resize/Signal/Catchup, the server sends
// Output/StateChange/CatchupEvents/Exit.
type SessionMsg struct {
	Input   []byte          `json:"input,omitempty"`
	Resize  *Resize         `json:"resize,omitempty"`
	Signal  string          `json:"signal,omitempty"`
	Catchup *CatchupRequest `json:"catchup,omitempty"`

	Output        []byte                    `json:"output,omitempty"`
	StatePrev     string                    `json:"state_prev,omitempty"`
	StateNext     string                    `json:"state_next,omitempty"`
	StateSeq      uint64                    `json:"state_seq,omitempty"`
	ExitCode      *int                      `json:"exit_code,omitempty"`
	CatchupEvents *eventlog.CatchupResponse `json:"catchup_events,omitempty"`
}

// Resize carries a terminal size for the Session stream's Resize frame.
type Resize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// CatchupRequest asks the server to replay state transitions and hook
// events recorded after the given sequence numbers, for a client
// resuming a Session stream after a reconnect.
type CatchupRequest struct {
	SinceSeq     uint64 `json:"since_seq"`
	SinceHookSeq uint64 `json:"since_hook_seq"`
}

// -- service implementation ----------------------------------------------------

// Service implements the session RPCs against a *session.Store.
type Service struct {
	Store     *session.Store
	AgentName string
	WSClients func() int
}

func (s *Service) wsClients() int {
	if s.WSClients == nil {
		return 0
	}
	return s.WSClients()
}

func toStatus(err *coopapi.Error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch err.Code {
	case coopapi.NotReady:
		code = codes.FailedPrecondition
	case coopapi.NoDriver:
		code = codes.Unimplemented
	case coopapi.BadRequest:
		code = codes.InvalidArgument
	case coopapi.Exited:
		code = codes.Aborted
	case coopapi.Unauthorized:
		code = codes.Unauthenticated
	case coopapi.NotFound:
		code = codes.NotFound
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Message)
}

// Health implements the unary Health RPC.
func (s *Service) Health(ctx context.Context, _ *HealthRequest) (*coopapi.HealthInfo, error) {
	h := coopapi.ComputeHealth(s.Store, s.AgentName, s.wsClients())
	return &h, nil
}

// Status implements the unary Status RPC.
func (s *Service) Status(ctx context.Context, _ *StatusRequest) (*coopapi.SessionStatus, error) {
	st := coopapi.ComputeStatus(s.Store, s.wsClients())
	return &st, nil
}

// Nudge implements the unary Nudge RPC.
func (s *Service) Nudge(ctx context.Context, req *NudgeRequest) (*coopapi.NudgeOutcome, error) {
	outcome, err := coopapi.HandleNudge(s.Store, req.Message)
	if err != nil {
		return nil, toStatus(err)
	}
	return &outcome, nil
}

// Respond implements the unary Respond RPC.
func (s *Service) Respond(ctx context.Context, req *RespondRequest) (*coopapi.RespondOutcome, error) {
	outcome, err := coopapi.HandleRespond(s.Store, req.Accept, req.Option, req.Text, req.Answers)
	if err != nil {
		return nil, toStatus(err)
	}
	return &outcome, nil
}

// sessionStream is the bidirectional-stream side of the Session RPC,
// mirroring grpc-go's generated ServerStream interface shape.
type sessionStream interface {
	Send(*SessionMsg) error
	Recv() (*SessionMsg, error)
	Context() context.Context
}

// Session streams output/state-change events to the client and applies
// input/resize/signal frames received from it, until either side closes.
func (s *Service) Session(stream sessionStream) error {
	ctx := stream.Context()

	outputCh, cancelOutput := s.Store.OutputBus.Subscribe(32)
	defer cancelOutput()
	stateCh, cancelState := s.Store.StateBus.Subscribe(8)
	defer cancelState()

	recvErr := make(chan error, 1)
	recvCh := make(chan *SessionMsg)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			recvCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-recvErr:
			if err == io.EOF {
				return nil
			}
			return err
		case msg := <-recvCh:
			if msg.Catchup != nil {
				resp := coopapi.CatchupEvents(s.Store, msg.Catchup.SinceSeq, msg.Catchup.SinceHookSeq)
				if err := stream.Send(&SessionMsg{CatchupEvents: &resp}); err != nil {
					return err
				}
				continue
			}
			s.applyInput(msg)
		case ev, ok := <-outputCh:
			if !ok {
				return nil
			}
			if ev.Kind != session.OutputRaw {
				continue
			}
			if err := stream.Send(&SessionMsg{Output: ev.Data}); err != nil {
				return err
			}
		case ev, ok := <-stateCh:
			if !ok {
				return nil
			}
			out := &SessionMsg{StatePrev: ev.Prev.Kind.String(), StateNext: ev.Next.Kind.String(), StateSeq: ev.Seq}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

func (s *Service) applyInput(msg *SessionMsg) {
	switch {
	case msg.Input != nil:
		_, _ = coopapi.HandleInputRaw(s.Store, msg.Input)
	case msg.Resize != nil:
		_ = coopapi.HandleResize(s.Store, msg.Resize.Cols, msg.Resize.Rows)
	case msg.Signal != "":
		_ = coopapi.HandleSignal(s.Store, msg.Signal)
	}
}

// -- manual ServiceDesc (stands in for protoc-gen-go-grpc output) ------------

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(HealthRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Health(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coop.Session/Health"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StatusRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Status(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coop.Session/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func nudgeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(NudgeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Nudge(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coop.Session/Nudge"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Nudge(ctx, req.(*NudgeRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func respondHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(RespondRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).Respond(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coop.Session/Respond"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).Respond(ctx, req.(*RespondRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// grpcSessionStream adapts grpc.ServerStream to the sessionStream
// interface Service.Session expects.
type grpcSessionStream struct {
	grpc.ServerStream
}

func (s *grpcSessionStream) Send(msg *SessionMsg) error { return s.ServerStream.SendMsg(msg) }
func (s *grpcSessionStream) Recv() (*SessionMsg, error) {
	msg := new(SessionMsg)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func sessionStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(*Service).Session(&grpcSessionStream{ServerStream: stream})
}

// ServiceDesc is the manual equivalent of protoc-gen-go-grpc's generated
// _Session_serviceDesc.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "coop.Session",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: healthHandler},
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Nudge", Handler: nudgeHandler},
		{MethodName: "Respond", Handler: respondHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Session", Handler: sessionStreamHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "coop/session.proto",
}

// NewServer builds a *grpc.Server with the Session service registered,
// defaulting new connections to the JSON codec in place of protobuf.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, svc)
	return srv
}
