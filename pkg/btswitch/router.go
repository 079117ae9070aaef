package btswitch

import (
	"context"
	"errors"
	"fmt"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// DefaultExemptApplications are never moved to the bluetooth source, so mixers keep monitoring
// whatever they were pointed at
var DefaultExemptApplications = []string{"org.PulseAudio.pavucontrol"}

// StreamRouter makes the bluetooth device the default and moves active streams onto it
type StreamRouter struct {
	logger *zap.SugaredLogger
	audio  AudioControl

	exemptApplications []string
}

func NewStreamRouter(logger *zap.SugaredLogger, audio AudioControl, exemptApplications []string) *StreamRouter {
	return &StreamRouter{
		logger:             logger.Named("router"),
		audio:              audio,
		exemptApplications: exemptApplications,
	}
}

// RouteStreams routes all output to sink and, if a bluetooth source exists, all non-exempt
// input to that source. It returns the source that was used, if any. Streams that fail to move
// don't stop the rest from being routed; their errors are joined into the returned error
func (r *StreamRouter) RouteStreams(ctx context.Context, sink Endpoint) (*Endpoint, error) {
	var errs []error

	if err := r.audio.SetDefaultSink(ctx, sink); err != nil {
		r.logger.Warnw("Failed to set default sink", "sink", &sink, "error", err)
		errs = append(errs, err)
	}

	sinkInputs, err := r.audio.SinkInputs(ctx)
	if err != nil {
		r.logger.Warnw("Failed to list sink inputs", "error", err)
		errs = append(errs, err)
	}

	for _, input := range sinkInputs {
		if err := r.audio.MoveSinkInput(ctx, input.Index, sink.Index); err != nil {
			r.logger.Warnw("Failed to move sink input", "sinkInput", input.Index, "error", err)
			errs = append(errs, err)
			continue
		}

		r.logger.Debugw("Moved sink input", "sinkInput", input.Index, "from", input.EndpointIndex, "to", sink.Index)
	}

	r.logger.Infow("Routed output streams", "sink", &sink, "streams", len(sinkInputs))

	source, err := FindBluetoothSource(ctx, r.audio)
	if err != nil {
		r.logger.Warnw("Failed to look up bluetooth source", "error", err)
		return nil, errors.Join(append(errs, err)...)
	}

	if source == nil {
		r.logger.Debug("No bluetooth source, leaving input streams alone")
		return nil, errors.Join(errs...)
	}

	if err := r.audio.SetDefaultSource(ctx, *source); err != nil {
		r.logger.Warnw("Failed to set default source", "source", source, "error", err)
		errs = append(errs, err)
	}

	sourceOutputs, err := r.audio.SourceOutputs(ctx)
	if err != nil {
		r.logger.Warnw("Failed to list source outputs", "error", err)
		errs = append(errs, err)
	}

	moved := 0
	for _, output := range sourceOutputs {
		if funk.ContainsString(r.exemptApplications, output.ApplicationID()) {
			r.logger.Debugw("Leaving exempt source output alone",
				"sourceOutput", output.Index,
				"application", output.ApplicationID())

			continue
		}

		if err := r.audio.MoveSourceOutput(ctx, output.Index, source.Index); err != nil {
			r.logger.Warnw("Failed to move source output", "sourceOutput", output.Index, "error", err)
			errs = append(errs, err)
			continue
		}

		moved++
	}

	r.logger.Infow("Routed input streams", "source", source, "streams", moved)

	if len(errs) > 0 {
		return source, fmt.Errorf("route streams: %w", errors.Join(errs...))
	}

	return source, nil
}
