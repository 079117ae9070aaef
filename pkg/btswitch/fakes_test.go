package btswitch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func btSink(index, card uint32, profile string) Endpoint {
	return Endpoint{
		Index:     index,
		Name:      fmt.Sprintf("bluez_sink.%d", index),
		CardIndex: card,
		Properties: map[string]string{
			propDeviceBus:         deviceBusBluetooth,
			propBluetoothProtocol: profile,
		},
		Profile: profile,
	}
}

func btSource(index, card uint32) Endpoint {
	return Endpoint{
		Index:     index,
		Name:      fmt.Sprintf("bluez_source.%d", index),
		CardIndex: card,
		Properties: map[string]string{
			propDeviceBus:   deviceBusBluetooth,
			propDeviceClass: deviceClassSound,
		},
	}
}

func pciSink(index uint32) Endpoint {
	return Endpoint{
		Index: index,
		Name:  fmt.Sprintf("alsa_output.%d", index),
		Properties: map[string]string{
			propDeviceBus:   "pci",
			propDeviceClass: deviceClassSound,
		},
	}
}

func stream(index, endpoint uint32, appID string) StreamBinding {
	props := map[string]string{}
	if appID != "" {
		props[propApplicationID] = appID
	}

	return StreamBinding{Index: index, EndpointIndex: endpoint, Properties: props}
}

var errFakeOperation = fmt.Errorf("%w: fake card refused profile", ErrOperationFailed)

type profileCall struct {
	card    uint32
	profile string
}

type fakeAudio struct {
	sinks         []Endpoint
	sources       []Endpoint
	sinkInputs    []StreamBinding
	sourceOutputs []StreamBinding

	// profileErrs[i] is returned by the i-th SetCardProfile call; missing entries succeed
	profileErrs []error

	// afterProfileChange replaces the sinks once a profile change succeeds
	afterProfileChange []Endpoint
	changeReplacesSink bool

	sinksErr error
	moveErrs map[uint32]error

	// sinksCalls counts Sinks calls; sinksAppearAfter keeps sinks hidden until that many calls
	// were made, sinksVanishAfter hides them again once that many were made
	sinksCalls       int
	sinksAppearAfter int
	sinksVanishAfter int

	profileCalls  []profileCall
	defaultSink   string
	defaultSource string
	movedInputs   map[uint32]uint32
	movedOutputs  map[uint32]uint32
	events        []string
	closed        bool
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{
		movedInputs:  map[uint32]uint32{},
		movedOutputs: map[uint32]uint32{},
		moveErrs:     map[uint32]error{},
	}
}

func (f *fakeAudio) Sinks(ctx context.Context) ([]Endpoint, error) {
	f.sinksCalls++

	if f.sinksErr != nil {
		return nil, f.sinksErr
	}

	if f.sinksCalls <= f.sinksAppearAfter {
		return nil, nil
	}

	if f.sinksVanishAfter > 0 && f.sinksCalls > f.sinksVanishAfter {
		return nil, nil
	}

	return append([]Endpoint{}, f.sinks...), nil
}

func (f *fakeAudio) Sources(ctx context.Context) ([]Endpoint, error) {
	return append([]Endpoint{}, f.sources...), nil
}

func (f *fakeAudio) SinkInputs(ctx context.Context) ([]StreamBinding, error) {
	return append([]StreamBinding{}, f.sinkInputs...), nil
}

func (f *fakeAudio) SourceOutputs(ctx context.Context) ([]StreamBinding, error) {
	return append([]StreamBinding{}, f.sourceOutputs...), nil
}

func (f *fakeAudio) SetDefaultSink(ctx context.Context, sink Endpoint) error {
	f.defaultSink = sink.Name
	return nil
}

func (f *fakeAudio) SetDefaultSource(ctx context.Context, source Endpoint) error {
	f.defaultSource = source.Name
	return nil
}

func (f *fakeAudio) MoveSinkInput(ctx context.Context, sinkInputIndex, sinkIndex uint32) error {
	if err := f.moveErrs[sinkInputIndex]; err != nil {
		return err
	}

	f.movedInputs[sinkInputIndex] = sinkIndex
	return nil
}

func (f *fakeAudio) MoveSourceOutput(ctx context.Context, sourceOutputIndex, sourceIndex uint32) error {
	f.movedOutputs[sourceOutputIndex] = sourceIndex
	return nil
}

func (f *fakeAudio) SetCardProfile(ctx context.Context, cardIndex uint32, profile string) error {
	call := len(f.profileCalls)
	f.profileCalls = append(f.profileCalls, profileCall{card: cardIndex, profile: profile})
	f.events = append(f.events, "set-profile")

	if call < len(f.profileErrs) && f.profileErrs[call] != nil {
		return f.profileErrs[call]
	}

	if f.changeReplacesSink {
		f.sinks = f.afterProfileChange
		return nil
	}

	for i := range f.sinks {
		if f.sinks[i].CardIndex == cardIndex {
			f.sinks[i].Profile = profile
		}
	}

	return nil
}

func (f *fakeAudio) Close() error {
	f.closed = true
	return nil
}

// fakeServices simulates the service manager; each restart swaps in the next set of sinks
type fakeServices struct {
	audio *fakeAudio

	sinksAfterRestart [][]Endpoint
	err               error

	restarts []string
}

func (s *fakeServices) Restart(ctx context.Context, service string) error {
	s.restarts = append(s.restarts, service)
	if s.audio != nil {
		s.audio.events = append(s.audio.events, "restart")
	}

	if s.err != nil {
		return s.err
	}

	if n := len(s.restarts) - 1; n < len(s.sinksAfterRestart) {
		s.audio.sinks = s.sinksAfterRestart[n]
	}

	return nil
}

type fakeAdapter struct {
	err   error
	calls int
}

func (a *fakeAdapter) Ready(ctx context.Context) error {
	a.calls++
	return a.err
}

var errFakeAdapterDown = errors.New("fake adapter down")

func testRecoverySettings() RecoverySettings {
	return RecoverySettings{
		ServiceName:  defaultServiceName,
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	}
}

func newTestSwitcher(audio *fakeAudio, services *fakeServices) *ProfileSwitcher {
	logger := testLogger()
	recovery := NewServiceRecovery(logger, audio, services, &fakeAdapter{}, testRecoverySettings())
	router := NewStreamRouter(logger, audio, DefaultExemptApplications)

	return NewProfileSwitcher(logger, audio, recovery, router, time.Millisecond)
}
