package rpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/ipwis/kernel/internal/logging"
)

// Start listens on addr and serves the kernel's RPC service until Stop
// is called. It returns once the listener is bound; Serve itself runs on
// its own goroutine, matching the teacher's internal/grpc/server.go.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen: %w", err)
	}

	s.server = grpc.NewServer(
		grpc.ForceServerCodec(encoding.GetCodec(codecName)),
		grpc.UnaryInterceptor(chainUnaryInterceptors(loggingInterceptor, errorHandlingInterceptor)),
	)
	s.server.RegisterService(&serviceDesc, s)

	logging.Op().Info("rpc server started", "addr", addr)

	go func() {
		if err := s.server.Serve(lis); err != nil {
			logging.Op().Error("rpc server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully drains in-flight RPCs and shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
}
