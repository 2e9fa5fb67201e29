package daemonclient

import (
	"context"
	"net"

	"google.golang.org/grpc"

	"github.com/qubesproject/qrexec-trigger-server/internal/driver"
	"github.com/qubesproject/qrexec-trigger-server/logger"
)

// VerdictIntake is the subset of *driver.Driver the embedded server
// needs: ProceedWithExecution arrives here as an inbound grpc call
// and is translated into a call to it (spec.md §6).
type VerdictIntake interface {
	VerdictIntake(ctx context.Context, ident string, clientID uint64) (driver.VerdictResult, error)
}

// Server is the small grpc server embedded in the trigger server's
// own process that receives the daemon's ProceedWithExecution calls.
type Server struct {
	intake     VerdictIntake
	grpcServer *grpc.Server
}

// NewServer constructs a Server that forwards ProceedWithExecution
// calls to intake.
func NewServer(intake VerdictIntake) *Server {
	s := &Server{intake: intake}
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks, accepting grpc connections on lis until it errors or
// Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully shuts the embedded grpc server down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) proceedWithExecution(ctx context.Context, req *proceedWithExecutionRequest) (*proceedWithExecutionResponse, error) {
	result, err := s.intake.VerdictIntake(ctx, req.Ident, req.ClientID)
	if err != nil {
		logger.DaemonErrorw("verdict intake failed", logger.FieldIdent, req.Ident, logger.FieldError, err)
		return nil, err
	}
	return &proceedWithExecutionResponse{Result: result.String()}, nil
}

// proceedWithExecutionHandler adapts proceedWithExecution to grpc's
// MethodHandler shape, the manually-authored equivalent of what
// protoc-gen-go-grpc would otherwise generate.
func proceedWithExecutionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(proceedWithExecutionRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.proceedWithExecution(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: s, FullMethod: methodProceedWithExecution}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.proceedWithExecution(ctx, req.(*proceedWithExecutionRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc is the hand-authored grpc.ServiceDesc this package
// would otherwise get from a .proto file: one unary method,
// ProceedWithExecution, dispatched through proceedWithExecutionHandler.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ProceedWithExecution", Handler: proceedWithExecutionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "daemonclient",
}
