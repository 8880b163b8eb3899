package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-beatmachine/config"
	"go-beatmachine/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// DeviceEvent is emitted when controllers connect/disconnect
type DeviceEvent struct {
	Type       DeviceEventType
	Controller Controller
	ID         string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// DeviceManager handles hot-plug detection of MIDI controllers.
// Launchpads are picked up automatically; keyboards only when their port is
// listed in the config with autoConnect.
type DeviceManager struct {
	controllers map[string]Controller
	configured  []config.ControllerConfig
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration
}

// NewDeviceManager creates a device manager for the configured controllers
func NewDeviceManager(configured []config.ControllerConfig) *DeviceManager {
	return &DeviceManager{
		controllers: make(map[string]Controller),
		configured:  configured,
		events:      make(chan DeviceEvent, 16),
		pollRate:    time.Second,
	}
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Controllers returns a snapshot of connected controllers
func (dm *DeviceManager) Controllers() map[string]Controller {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make(map[string]Controller, len(dm.controllers))
	for k, v := range dm.controllers {
		out[k] = v
	}
	return out
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

// Classify decides what to open on an input port, and the keyboard channel filter
func (dm *DeviceManager) Classify(name string) (ControllerType, int) {
	for _, c := range dm.configured {
		if !c.AutoConnect || !strings.EqualFold(c.PortName, name) {
			continue
		}
		if c.Type == config.ControllerKeyboard {
			return ControllerKeyboard, c.InputChannel
		}
		return ControllerLaunchpad, 0
	}
	if isLaunchpad(name) {
		return ControllerLaunchpad, 0
	}
	return ControllerUnknown, 0
}

func (dm *DeviceManager) scan() {
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}

	// port enumeration can hang on some drivers; give up after a while
	ch := make(chan portsResult, 1)
	go func() {
		ch <- portsResult{inPorts: gomidi.GetInPorts(), outPorts: gomidi.GetOutPorts()}
	}()

	var inPorts []drivers.In
	var outPorts []drivers.Out
	select {
	case result := <-ch:
		inPorts = result.inPorts
		outPorts = result.outPorts
	case <-time.After(3 * time.Second):
		debug.Log("midi", "port scan timed out")
		return
	}

	seen := make(map[string]bool)
	for _, inPort := range inPorts {
		id := inPort.String()
		kind, channel := dm.Classify(id)
		if kind == ControllerUnknown {
			continue
		}
		seen[id] = true

		dm.mu.RLock()
		_, exists := dm.controllers[id]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		ctrl, err := dm.open(kind, id, inPort, outPorts, channel)
		if err != nil {
			debug.Log("midi", "open %s: %v", id, err)
			continue
		}

		dm.mu.Lock()
		dm.controllers[id] = ctrl
		dm.mu.Unlock()
		dm.events <- DeviceEvent{Type: DeviceConnected, Controller: ctrl, ID: id}
	}

	dm.mu.Lock()
	var gone []string
	for id, c := range dm.controllers {
		if !seen[id] {
			c.Close()
			delete(dm.controllers, id)
			gone = append(gone, id)
		}
	}
	dm.mu.Unlock()

	for _, id := range gone {
		dm.events <- DeviceEvent{Type: DeviceDisconnected, ID: id}
	}
}

func (dm *DeviceManager) open(kind ControllerType, id string, inPort drivers.In, outPorts []drivers.Out, channel int) (Controller, error) {
	if kind == ControllerKeyboard {
		return NewKeyboardController(id, inPort, channel)
	}
	var outPort drivers.Out
	for _, op := range outPorts {
		if strings.EqualFold(op.String(), id) {
			outPort = op
			break
		}
	}
	return NewLaunchpadController(id, inPort, outPort)
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, c := range dm.controllers {
		c.Close()
	}
	dm.controllers = make(map[string]Controller)
}

func isLaunchpad(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}
