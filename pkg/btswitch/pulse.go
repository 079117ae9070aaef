package btswitch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const clientName = "btswitch"

type paAudioControl struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn
}

// NewPulseAudioControl opens the PulseAudio (or pipewire-pulse) session used for the whole process.
// An empty server address selects the default server
func NewPulseAudioControl(logger *zap.SugaredLogger, server string) (AudioControl, error) {
	logger = logger.Named("pulse")

	client, conn, err := proto.Connect(server)
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString(clientName),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set PulseAudio client name: %w", err)
	}

	pa := &paAudioControl{
		logger: logger,
		client: client,
		conn:   conn,
	}

	logger.Debugw("Connected to PulseAudio", "clientIndex", reply.ClientIndex)

	return pa, nil
}

func (pa *paAudioControl) Sinks(ctx context.Context) ([]Endpoint, error) {
	reply := proto.GetSinkInfoListReply{}
	if err := pa.request(ctx, &proto.GetSinkInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("get sink list: %w", err)
	}

	sinks := make([]Endpoint, 0, len(reply))
	for _, info := range reply {
		props := propListToMap(info.Properties)

		sinks = append(sinks, Endpoint{
			Index:      info.SinkIndex,
			Name:       info.SinkName,
			CardIndex:  info.CardIndex,
			Properties: props,
			Profile:    props[propBluetoothProtocol],
		})
	}

	return sinks, nil
}

func (pa *paAudioControl) Sources(ctx context.Context) ([]Endpoint, error) {
	reply := proto.GetSourceInfoListReply{}
	if err := pa.request(ctx, &proto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("get source list: %w", err)
	}

	sources := make([]Endpoint, 0, len(reply))
	for _, info := range reply {
		sources = append(sources, Endpoint{
			Index:      info.SourceIndex,
			Name:       info.SourceName,
			CardIndex:  info.CardIndex,
			Properties: propListToMap(info.Properties),
		})
	}

	return sources, nil
}

func (pa *paAudioControl) SinkInputs(ctx context.Context) ([]StreamBinding, error) {
	reply := proto.GetSinkInputInfoListReply{}
	if err := pa.request(ctx, &proto.GetSinkInputInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("get sink input list: %w", err)
	}

	inputs := make([]StreamBinding, 0, len(reply))
	for _, info := range reply {
		inputs = append(inputs, StreamBinding{
			Index:         info.SinkInputIndex,
			EndpointIndex: info.SinkIndex,
			Properties:    propListToMap(info.Properties),
		})
	}

	return inputs, nil
}

func (pa *paAudioControl) SourceOutputs(ctx context.Context) ([]StreamBinding, error) {
	reply := proto.GetSourceOutputInfoListReply{}
	if err := pa.request(ctx, &proto.GetSourceOutputInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("get source output list: %w", err)
	}

	outputs := make([]StreamBinding, 0, len(reply))
	for _, info := range reply {
		outputs = append(outputs, StreamBinding{
			Index:         info.SourceOutpuIndex,
			EndpointIndex: info.SourceIndex,
			Properties:    propListToMap(info.Properties),
		})
	}

	return outputs, nil
}

func (pa *paAudioControl) SetDefaultSink(ctx context.Context, sink Endpoint) error {
	if err := pa.request(ctx, &proto.SetDefaultSink{SinkName: sink.Name}, nil); err != nil {
		return fmt.Errorf("set default sink %s: %w", sink.Name, err)
	}

	return nil
}

func (pa *paAudioControl) SetDefaultSource(ctx context.Context, source Endpoint) error {
	if err := pa.request(ctx, &proto.SetDefaultSource{SourceName: source.Name}, nil); err != nil {
		return fmt.Errorf("set default source %s: %w", source.Name, err)
	}

	return nil
}

func (pa *paAudioControl) MoveSinkInput(ctx context.Context, sinkInputIndex, sinkIndex uint32) error {
	request := proto.MoveSinkInput{
		SinkInputIndex: sinkInputIndex,
		DeviceIndex:    sinkIndex,
	}

	if err := pa.request(ctx, &request, nil); err != nil {
		return fmt.Errorf("move sink input %d: %w", sinkInputIndex, err)
	}

	return nil
}

func (pa *paAudioControl) MoveSourceOutput(ctx context.Context, sourceOutputIndex, sourceIndex uint32) error {
	request := proto.MoveSourceOutput{
		SourceOutputIndex: sourceOutputIndex,
		DeviceIndex:       sourceIndex,
	}

	if err := pa.request(ctx, &request, nil); err != nil {
		return fmt.Errorf("move source output %d: %w", sourceOutputIndex, err)
	}

	return nil
}

func (pa *paAudioControl) SetCardProfile(ctx context.Context, cardIndex uint32, profile string) error {
	request := proto.SetCardProfile{
		CardIndex:   cardIndex,
		ProfileName: profile,
	}

	if err := pa.request(ctx, &request, nil); err != nil {
		return fmt.Errorf("set card %d profile to %s: %w", cardIndex, profile, err)
	}

	return nil
}

func (pa *paAudioControl) Close() error {
	if err := pa.conn.Close(); err != nil {
		pa.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	pa.logger.Debug("Closed PulseAudio connection")

	return nil
}

// request performs a blocking request. The protocol client can't be interrupted mid-request,
// so the context is only checked before sending
func (pa *paAudioControl) request(ctx context.Context, args proto.RequestArgs, reply proto.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return classifyPulseError(pa.client.Request(args, reply))
}

// classifyPulseError marks errors reported by the server itself as ErrOperationFailed,
// keeping connection-level errors as they are
func classifyPulseError(err error) error {
	if err == nil {
		return nil
	}

	var serverErr proto.Error
	if errors.As(err, &serverErr) {
		return fmt.Errorf("%w: %w", ErrOperationFailed, err)
	}

	return err
}

func propListToMap(props proto.PropList) map[string]string {
	result := make(map[string]string, len(props))
	for key, value := range props {
		result[key] = value.String()
	}

	return result
}
