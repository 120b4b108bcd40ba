package link

import (
	"fmt"
	"io"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/voltscope/voltscope/pkg/model"
)

// Port is the byte stream the monitor reads from. Satisfied by a real serial
// port and by in-memory pipes in tests.
type Port interface {
	io.ReadCloser
}

// Opener opens a named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// OpenSerial opens a real serial port with 8N1 framing.
func OpenSerial(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open port %s: %w", name, err)
	}
	return port, nil
}

// ScanPorts enumerates the available serial ports.
func ScanPorts() ([]model.PortDescriptor, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}

	ports := make([]model.PortDescriptor, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if desc == "" && d.IsUSB {
			desc = fmt.Sprintf("USB %s:%s", d.VID, d.PID)
		}
		ports = append(ports, model.PortDescriptor{Name: d.Name, Description: desc})
	}
	return ports, nil
}
