package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"robolab/simserver/internal/command"
	"robolab/simserver/internal/robot"
)

// EncodeState converts a snapshot into the Struct message streamed to clients. Field
// names match the websocket JSON shape.
func EncodeState(state robot.State) (*structpb.Struct, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return structpb.NewStruct(fields)
}

// DecodeState converts a streamed Struct back into a snapshot.
func DecodeState(msg *structpb.Struct) (robot.State, error) {
	var state robot.State
	if msg == nil {
		return state, fmt.Errorf("state message is nil")
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return state, fmt.Errorf("marshal state message: %w", err)
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("decode state message: %w", err)
	}
	return state, nil
}

// CommandFrame renders a Struct command as the JSON frame understood by command.Decode.
func CommandFrame(msg *structpb.Struct) ([]byte, error) {
	if msg == nil {
		return nil, command.ErrEmptyCommand
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal command message: %w", err)
	}
	return raw, nil
}

// EncodeCommand builds the Struct form of a wire command for clients.
func EncodeCommand(wire command.Wire) (*structpb.Struct, error) {
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return msg, nil
}
