// Package gemaal talks to the PLC of a pumping station over Modbus TCP: it
// reads water levels, flow and pump state and writes the remote setpoint.
package gemaal

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goburrow/modbus"
)

// Register map of the station PLC
const (
	regStatusBase     = 30000 // input registers, statusRegisters long
	statusRegisters   = 10
	regRemoteControl  = 40000 // holding, 0: local, 1: remote
	regSetpoint       = 40001 // holding, per mille of nominal capacity
	DefaultSlaveID    = 1
	MinSlaveAddress   = 1
	MaxSlaveAddress   = 246
	setpointFullScale = 1000
)

// State is the operating state reported by the PLC.
type State uint16

const (
	StateStopped State = 0
	StateRunning State = 1
	StateFault   State = 2
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateFault:
		return "fault"
	default:
		return fmt.Sprintf("state(%d)", uint16(s))
	}
}

// Status is a snapshot of the pumping station
type Status struct {
	UpstreamLevel   float64 // m, suction side
	DownstreamLevel float64 // m, discharge side
	State           State
	Flow            float64 // m³/s
	Setpoint        float64 // fraction of nominal capacity, 0..1
	Remote          bool
	Alarms          uint16
	PowerKW         float64
}

// Running reports whether the pump is running.
func (s *Status) Running() bool {
	return s.State == StateRunning
}

// Head returns the lift the pump works against.
func (s *Status) Head() float64 {
	return s.DownstreamLevel - s.UpstreamLevel
}

// Client is a Modbus client for one pumping station
type Client struct {
	client     modbus.Client
	tcpHandler *modbus.TCPClientHandler
}

// NewTCPClient connects to the station PLC at address (host:port).
func NewTCPClient(address string, slaveID byte) (*Client, error) {
	if slaveID < MinSlaveAddress || slaveID > MaxSlaveAddress {
		return nil, fmt.Errorf("invalid slave ID %d: must be between %d and %d", slaveID, MinSlaveAddress, MaxSlaveAddress)
	}
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	handler.Timeout = 2 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &Client{
		client:     modbus.NewClient(handler),
		tcpHandler: handler,
	}, nil
}

// NewClient wraps an existing Modbus client.
func NewClient(mc modbus.Client) *Client {
	return &Client{client: mc}
}

// Close closes the Modbus connection
func (c *Client) Close() error {
	if c.tcpHandler != nil {
		return c.tcpHandler.Close()
	}
	return nil
}

// ReadStatus reads the status block of the station.
func (c *Client) ReadStatus() (*Status, error) {
	data, err := c.client.ReadInputRegisters(regStatusBase, statusRegisters)
	if err != nil {
		return nil, fmt.Errorf("failed to read gemaal status: %w", err)
	}
	return decodeStatus(data)
}

// SetRemoteControl hands control of the pump to (or back from) this client.
func (c *Client) SetRemoteControl(enable bool) error {
	var value uint16
	if enable {
		value = 1
	}
	if _, err := c.client.WriteSingleRegister(regRemoteControl, value); err != nil {
		return fmt.Errorf("failed to set remote control: %w", err)
	}
	return nil
}

// WriteSetpoint sets the pump speed as a fraction of nominal capacity.
// The fraction is clamped to 0..1; zero stops the pump.
func (c *Client) WriteSetpoint(fraction float64) error {
	if math.IsNaN(fraction) {
		return fmt.Errorf("invalid setpoint: NaN")
	}
	fraction = math.Min(1, math.Max(0, fraction))
	value := uint16(math.Round(fraction * setpointFullScale))
	if _, err := c.client.WriteSingleRegister(regSetpoint, value); err != nil {
		return fmt.Errorf("failed to write setpoint: %w", err)
	}
	return nil
}

func decodeStatus(data []byte) (*Status, error) {
	if len(data) < statusRegisters*2 {
		return nil, fmt.Errorf("short status block: got %d bytes, want %d", len(data), statusRegisters*2)
	}
	return &Status{
		UpstreamLevel:   float64(int16(binary.BigEndian.Uint16(data[0:2]))) / 1000.0,
		DownstreamLevel: float64(int16(binary.BigEndian.Uint16(data[2:4]))) / 1000.0,
		State:           State(binary.BigEndian.Uint16(data[4:6])),
		Flow:            float64(binary.BigEndian.Uint32(data[6:10])) / 1000.0,
		Setpoint:        float64(binary.BigEndian.Uint16(data[10:12])) / setpointFullScale,
		Remote:          binary.BigEndian.Uint16(data[12:14]) == 1,
		Alarms:          binary.BigEndian.Uint16(data[14:16]),
		PowerKW:         float64(binary.BigEndian.Uint32(data[16:20])) / 1000.0,
	}, nil
}
