package btswitch

import (
	"context"
	"errors"
	"fmt"
)

// well-known property keys
const (
	propDeviceBus         = "device.bus"
	propDeviceClass       = "device.class"
	propBluetoothProtocol = "bluetooth.protocol"
	propApplicationID     = "application.id"

	deviceBusBluetooth = "bluetooth"
	deviceClassSound   = "sound"
)

// ErrOperationFailed is wrapped by AudioControl implementations when the audio server
// rejects an operation (as opposed to the connection itself failing)
var ErrOperationFailed = errors.New("audio server operation failed")

// Endpoint is a sink or a source exposed by the audio server. Its index is only valid
// until the owning service restarts
type Endpoint struct {
	Index      uint32
	Name       string
	CardIndex  uint32
	Properties map[string]string

	// Profile is only populated for sinks
	Profile string
}

func (e *Endpoint) String() string {
	if e == nil {
		return "<none>"
	}

	return fmt.Sprintf("#%d %s (card %d)", e.Index, e.Name, e.CardIndex)
}

func (e *Endpoint) prop(key string) string {
	return e.Properties[key]
}

// StreamBinding is an active stream (sink input or source output) and the endpoint it's bound to
type StreamBinding struct {
	Index         uint32
	EndpointIndex uint32
	Properties    map[string]string
}

// ApplicationID returns the application.id of the stream's owner, or an empty string
func (s StreamBinding) ApplicationID() string {
	return s.Properties[propApplicationID]
}

// AudioControl represents the audio server session btswitch queries and drives.
// It isn't safe for concurrent use
type AudioControl interface {
	Sinks(ctx context.Context) ([]Endpoint, error)
	Sources(ctx context.Context) ([]Endpoint, error)
	SinkInputs(ctx context.Context) ([]StreamBinding, error)
	SourceOutputs(ctx context.Context) ([]StreamBinding, error)

	SetDefaultSink(ctx context.Context, sink Endpoint) error
	SetDefaultSource(ctx context.Context, source Endpoint) error

	MoveSinkInput(ctx context.Context, sinkInputIndex, sinkIndex uint32) error
	MoveSourceOutput(ctx context.Context, sourceOutputIndex, sourceIndex uint32) error

	// SetCardProfile returns an error wrapping ErrOperationFailed if the server refused the change
	SetCardProfile(ctx context.Context, cardIndex uint32, profile string) error

	Close() error
}
