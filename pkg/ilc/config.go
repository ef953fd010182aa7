// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceTable is the YAML settings file describing every ILC on the bus
type DeviceTable struct {
	ForceActuators    []ForceActuatorRow `yaml:"force_actuators"`
	Hardpoints        []HardpointRow     `yaml:"hardpoints"`
	HardpointMonitors []HardpointRow     `yaml:"hardpoint_monitors"`
	Limits            *ValidatorConfig   `yaml:"limits,omitempty"`
}

// LoadError describes a device table loading failure
type LoadError struct {
	// File is the path of the table (empty when parsing bytes)
	File string

	// Message describes the error
	Message string

	// Cause is the underlying error, if any
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ParseDeviceTable parses a device table from YAML bytes
func ParseDeviceTable(data []byte) (*DeviceTable, error) {
	var table DeviceTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if len(table.ForceActuators)+len(table.Hardpoints)+len(table.HardpointMonitors) == 0 {
		return nil, &LoadError{
			Message: "device table lists no devices",
		}
	}

	return &table, nil
}

// LoadDeviceTable loads a device table from a file
func LoadDeviceTable(path string) (*DeviceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	table, err := ParseDeviceTable(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	return table, nil
}

// DeviceMap builds the device map described by the table
func (t *DeviceTable) DeviceMap() (*DeviceMap, error) {
	dm, err := BuildDeviceMap(t.ForceActuators, t.Hardpoints, t.HardpointMonitors)
	if err != nil {
		return nil, &LoadError{
			Message: "invalid device table",
			Cause:   err,
		}
	}
	return dm, nil
}

// LoadDeviceMap loads a device table file and builds its device map
func LoadDeviceMap(path string) (*DeviceMap, *DeviceTable, error) {
	table, err := LoadDeviceTable(path)
	if err != nil {
		return nil, nil, err
	}
	dm, err := table.DeviceMap()
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return nil, nil, err
	}
	return dm, table, nil
}

// DefaultDeviceTable returns a small table used by the simulator when no
// settings file is given: two force actuators per subnet (one dual axis),
// six hardpoints on subnet 5 and six hardpoint monitors on subnet 5.
func DefaultDeviceTable() *DeviceTable {
	t := &DeviceTable{}
	index := 0
	for subnet := uint8(MinSubnet); subnet <= MaxSubnet-1; subnet++ {
		for n := 0; n < 2; n++ {
			row := ForceActuatorRow{
				ID:      int32(100*int(subnet) + n + 1),
				Subnet:  subnet,
				Address: uint8(10 + n),
			}
			x := index
			row.XIndex = &x
			if n == 1 {
				s := index
				row.SecondaryIndex = &s
			}
			t.ForceActuators = append(t.ForceActuators, row)
			index++
		}
	}
	for i := 0; i < 6; i++ {
		t.Hardpoints = append(t.Hardpoints, HardpointRow{ID: int32(i + 1), Subnet: MaxSubnet, Address: uint8(78 + i)})
		t.HardpointMonitors = append(t.HardpointMonitors, HardpointRow{ID: int32(i + 1), Subnet: MaxSubnet, Address: uint8(84 + i)})
	}
	return t
}

// String returns a one-line summary of the table
func (t *DeviceTable) String() string {
	return fmt.Sprintf("%d FA, %d HP, %d HM", len(t.ForceActuators), len(t.Hardpoints), len(t.HardpointMonitors))
}
