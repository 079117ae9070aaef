package btswitch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// AdapterProbe reports whether the local bluetooth adapter is reachable
type AdapterProbe interface {
	Ready(ctx context.Context) error
}

type bluezAdapterProbe struct {
	logger  *zap.SugaredLogger
	adapter *bluetooth.Adapter
}

// NewAdapterProbe returns a probe for the default BlueZ adapter
func NewAdapterProbe(logger *zap.SugaredLogger) AdapterProbe {
	return &bluezAdapterProbe{
		logger:  logger.Named("adapter"),
		adapter: bluetooth.DefaultAdapter,
	}
}

func (p *bluezAdapterProbe) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// enabling goes through bluetoothd, so it fails while the service is down
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	addr, err := p.adapter.Address()
	if err != nil {
		return fmt.Errorf("read bluetooth adapter address: %w", err)
	}

	p.logger.Debugw("Bluetooth adapter is up", "address", addr.String())

	return nil
}
