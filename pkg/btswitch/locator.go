package btswitch

import (
	"context"
	"fmt"
)

// FindBluetoothSink returns the first sink on the bluetooth bus, or nil if there is none.
// If several bluetooth sinks exist, the audio server's enumeration order decides
func FindBluetoothSink(ctx context.Context, audio AudioControl) (*Endpoint, error) {
	sinks, err := audio.Sinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate sinks: %w", err)
	}

	for i := range sinks {
		if sinks[i].prop(propDeviceBus) == deviceBusBluetooth {
			return &sinks[i], nil
		}
	}

	return nil, nil
}

// FindBluetoothSource returns the first bluetooth input source, or nil if there is none.
// Monitor sources share the bus but not the device class, so they're skipped
func FindBluetoothSource(ctx context.Context, audio AudioControl) (*Endpoint, error) {
	sources, err := audio.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate sources: %w", err)
	}

	for i := range sources {
		if sources[i].prop(propDeviceBus) == deviceBusBluetooth &&
			sources[i].prop(propDeviceClass) == deviceClassSound {
			return &sources[i], nil
		}
	}

	return nil, nil
}
