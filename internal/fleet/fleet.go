// Package fleet defines the shared device and report types.
package fleet

import "strings"

// Task states carried in reports. The agent only produces ok and err; lost
// is inferred server-side for tasks that went missing.
const (
	StateOK   = "ok"
	StateErr  = "err"
	StateLost = "lost"
)

// Device identifies a monitored host. Addr is free text (typically an ssh
// address) and may be empty.
type Device struct {
	Name string
	Addr string
}

// ParseDevice splits a wire identity of the form "name#addr" on the first
// '#'. An identity without '#' is a bare name.
func ParseDevice(identity string) Device {
	name, addr, found := strings.Cut(identity, "#")
	if !found {
		return Device{Name: identity}
	}
	return Device{Name: name, Addr: addr}
}

// String re-packs the identity into its wire form.
func (d Device) String() string {
	if d.Addr == "" {
		return d.Name
	}
	return d.Name + "#" + d.Addr
}

// DisplayAddr returns the address, or a placeholder for devices without one.
func (d Device) DisplayAddr() string {
	if d.Addr == "" {
		return "unassigned"
	}
	return d.Addr
}

// TaskReport is one task's state from a single log scan.
type TaskReport struct {
	State   string `json:"state"`
	LogDate string `json:"logdate"`
	Detail  string `json:"detail"`
}

// DeviceStatus is a device's standing in the current daily cycle: either a
// set of task reports, or lost (never connected this cycle).
type DeviceStatus struct {
	Lost  bool
	Tasks map[string]TaskReport
}
