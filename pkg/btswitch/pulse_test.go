package btswitch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jfreymuth/pulse/proto"
)

func TestPropListToMap(t *testing.T) {
	props := proto.PropList{
		propDeviceBus:         proto.PropListString("bluetooth"),
		propBluetoothProtocol: proto.PropListString("a2dp_sink"),
	}

	got := propListToMap(props)

	if got[propDeviceBus] != "bluetooth" || got[propBluetoothProtocol] != "a2dp_sink" {
		t.Fatalf("propListToMap() = %v", got)
	}
}

func TestClassifyPulseError(t *testing.T) {
	if err := classifyPulseError(nil); err != nil {
		t.Fatalf("classifyPulseError(nil) = %v", err)
	}

	serverErr := fmt.Errorf("request: %w", proto.Error(3))
	if err := classifyPulseError(serverErr); !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("server error not marked as operation failure: %v", err)
	}

	connErr := errors.New("use of closed network connection")
	if err := classifyPulseError(connErr); errors.Is(err, ErrOperationFailed) || !errors.Is(err, connErr) {
		t.Fatalf("connection error misclassified: %v", err)
	}
}
