package grpc

import (
	"context"

	"robolab/simserver/internal/command"
	"robolab/simserver/internal/robot"
)

// SnapshotSource exposes subscription semantics for the per-tick state fan-out.
type SnapshotSource interface {
	Subscribe(ctx context.Context, buffer int) (<-chan robot.State, func())
}

// CommandSink decodes and applies JSON command frames.
type CommandSink interface {
	Submit(raw []byte) (command.Command, robot.State, error)
}

// Simulation aggregates the dependencies required by the gRPC service.
type Simulation interface {
	SnapshotSource
	CommandSink
}
