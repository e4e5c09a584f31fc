// Package grpc exposes the simulation over a gRPC service carrying Struct messages.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/robot"
	"robolab/simserver/internal/simulation"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "robolab.sim.v1.Simulation"

	executeMethod     = "/" + ServiceName + "/Execute"
	streamStateMethod = "/" + ServiceName + "/StreamState"

	// maxRateField optionally throttles StreamState to at most this many frames per second.
	maxRateField = "maxRateHz"

	streamBuffer = 16

	// minStreamInterval caps throttled streams at 100 frames per second.
	minStreamInterval = 10 * time.Millisecond
	maxStreamInterval = time.Minute
)

// SimulationServer is the server API for the simulation service.
type SimulationServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	StreamState(req *structpb.Struct, stream grpc.ServerStream) error
}

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

// Option customises the behaviour of the gRPC service.
type Option func(*Service)

// WithTickerFactory overrides the throttling ticker factory (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements SimulationServer on top of the simulation engine.
type Service struct {
	sim       Simulation
	newTicker tickerFactory
	log       *logging.Logger
}

// NewService wires the gRPC service to the simulation and optional settings.
func NewService(sim Simulation, opts ...Option) *Service {
	service := &Service{sim: sim, newTicker: defaultTickerFactory, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Register attaches the service to a gRPC server.
func Register(server grpc.ServiceRegistrar, service SimulationServer) {
	server.RegisterService(&serviceDesc, service)
}

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Execute applies one command and returns the resulting snapshot.
func (s *Service) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.sim == nil {
		return nil, status.Error(codes.FailedPrecondition, "simulation unavailable")
	}
	frame, err := CommandFrame(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cmd, snapshot, err := s.sim.Submit(frame)
	if err != nil {
		logging.LoggerFromContext(ctx).Debug("grpc command failed", logging.String("type", string(cmd.Kind)), logging.Error(err))
		return nil, commandStatus(err)
	}
	out, err := EncodeState(snapshot)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode state: %v", err)
	}
	return out, nil
}

// StreamState relays every tick snapshot to the caller, starting with the current state.
func (s *Service) StreamState(req *structpb.Struct, stream grpc.ServerStream) error {
	if s == nil || s.sim == nil {
		return status.Error(codes.FailedPrecondition, "streaming unavailable")
	}
	interval, err := streamInterval(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ctx := stream.Context()
	//1.- Subscribe to the engine fan-out; the attach snapshot is queued first.
	updates, cancel := s.sim.Subscribe(ctx, streamBuffer)
	defer cancel()
	s.log.Debug("state stream opened")

	var (
		tickCh <-chan time.Time
		latest *robot.State
	)
	if interval > 0 {
		var stop func()
		tickCh, stop = s.newTicker(interval)
		defer stop()
	}

	send := func(state robot.State) error {
		msg, err := EncodeState(state)
		if err != nil {
			return status.Errorf(codes.Internal, "encode state: %v", err)
		}
		return stream.SendMsg(msg)
	}

	for {
		select {
		case <-ctx.Done():
			//2.- Surface context cancellation so clients can retry.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case state, ok := <-updates:
			if !ok {
				if latest != nil {
					return send(*latest)
				}
				return nil
			}
			if tickCh == nil {
				if err := send(state); err != nil {
					return err
				}
				continue
			}
			//3.- Throttled streams keep only the newest snapshot between ticks.
			latest = &state
		case <-tickCh:
			if latest == nil {
				continue
			}
			if err := send(*latest); err != nil {
				return err
			}
			latest = nil
		}
	}
}

// streamInterval converts the optional maxRateHz field into a throttle interval. Zero means
// every tick is relayed.
func streamInterval(req *structpb.Struct) (time.Duration, error) {
	hz := req.GetFields()[maxRateField].GetNumberValue()
	switch {
	case math.IsNaN(hz) || math.IsInf(hz, 0):
		return 0, fmt.Errorf("%s must be a finite number", maxRateField)
	case hz < 0:
		return 0, fmt.Errorf("%s must not be negative", maxRateField)
	case hz == 0:
		return 0, nil
	}
	period := float64(time.Second) / hz
	switch {
	case period < float64(minStreamInterval):
		return minStreamInterval, nil
	case period > float64(maxStreamInterval):
		return maxStreamInterval, nil
	}
	return time.Duration(period), nil
}

// commandStatus maps engine failures onto gRPC codes. Anything the engine did not reject
// for being closed is a malformed or unsupported command.
func commandStatus(err error) error {
	if errors.Is(err, simulation.ErrEngineClosed) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.InvalidArgument, err.Error())
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SimulationServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SimulationServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamStateHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SimulationServer).StreamState(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamState", Handler: streamStateHandler, ServerStreams: true},
	},
	Metadata: "robolab/sim/v1/simulation.proto",
}
