package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ipwis/kernel/internal/abi"
	"github.com/ipwis/kernel/internal/domain"
	"github.com/ipwis/kernel/internal/kernel"
)

// kernelFacade is the subset of *kernel.Kernel the RPC service calls.
// Narrowed to an interface so Server can be exercised in tests without a
// real wasm engine.
type kernelFacade interface {
	Spawn(ctx context.Context, tenant string, ctxTree *domain.TaskCtx, mode abi.ProtectionMode) (abi.TaskId, error)
	Poll(id abi.TaskId) (domain.TaskPoll, error)
	Wait(ctx context.Context, id abi.TaskId) (domain.TaskPoll, error)
	Release(ctx context.Context, id abi.TaskId) error
}

var _ kernelFacade = (*kernel.Kernel)(nil)

// Server implements the kernel's gRPC service: Spawn, Poll, Wait,
// Release against an underlying kernelFacade. There is no generated
// protobuf server interface to satisfy here (see codec.go); Server's
// methods are wired directly into serviceDesc's MethodDesc handlers.
type Server struct {
	kernel kernelFacade
	server *grpc.Server
}

// NewServer constructs an RPC Server wrapping k.
func NewServer(k *kernel.Kernel) *Server {
	return &Server{kernel: k}
}

// Spawn admits and starts a task, returning its TaskId.
func (s *Server) Spawn(ctx context.Context, req *SpawnRequest) (*SpawnResponse, error) {
	if req.CtxTree == nil {
		return nil, status.Error(codes.InvalidArgument, "ctx_tree is required")
	}
	id, err := s.kernel.Spawn(ctx, req.Tenant, req.CtxTree.ToDomain(), abi.ProtectionMode(req.ProtectionMode))
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &SpawnResponse{TaskId: uint32(id)}, nil
}

// Poll returns a task's current state without blocking.
func (s *Server) Poll(ctx context.Context, req *PollRequest) (*PollResponse, error) {
	poll, err := s.kernel.Poll(taskID(req.TaskId))
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &PollResponse{Poll: TaskPollFromDomain(poll)}, nil
}

// Wait blocks until a task reaches a terminal state or the RPC is canceled.
func (s *Server) Wait(ctx context.Context, req *WaitRequest) (*WaitResponse, error) {
	poll, err := s.kernel.Wait(ctx, taskID(req.TaskId))
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.Error(codes.Canceled, err.Error())
		}
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return &WaitResponse{Poll: TaskPollFromDomain(poll)}, nil
}

// Release tears down a terminal task's host resources.
func (s *Server) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	if err := s.kernel.Release(ctx, taskID(req.TaskId)); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &ReleaseResponse{}, nil
}

// serviceName is the fully qualified gRPC service name clients dial.
const serviceName = "ipwis.kernel.v1.Kernel"

// serviceDesc hand-builds the grpc.ServiceDesc a generated novapb-style
// stub would normally provide. Each MethodDesc.Handler decodes its
// request with the codec registered in codec.go, runs the configured
// interceptor chain, and dispatches to the matching Server method.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Spawn", Handler: spawnHandler},
		{MethodName: "Poll", Handler: pollHandler},
		{MethodName: "Wait", Handler: waitHandler},
		{MethodName: "Release", Handler: releaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ipwis/kernel.proto",
}

func spawnHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(SpawnRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.Spawn(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + serviceName + "/Spawn"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.Spawn(ctx, req.(*SpawnRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func pollHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PollRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.Poll(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + serviceName + "/Poll"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.Poll(ctx, req.(*PollRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func waitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(WaitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.Wait(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + serviceName + "/Wait"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.Wait(ctx, req.(*WaitRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func releaseHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ReleaseRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.Release(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/" + serviceName + "/Release"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.Release(ctx, req.(*ReleaseRequest))
	}
	return interceptor(ctx, req, info, handler)
}
