// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"sort"
)

// DeviceClass is the kind of field device behind an ILC
type DeviceClass uint8

// Device classes
const (
	ClassFA DeviceClass = iota // Force actuator
	ClassHP                    // Hardpoint
	ClassHM                    // Hardpoint monitor
	classCount
)

// Classes lists all device classes in bus visiting order
var Classes = []DeviceClass{ClassFA, ClassHP, ClassHM}

// String returns the short class name
func (c DeviceClass) String() string {
	switch c {
	case ClassFA:
		return "FA"
	case ClassHP:
		return "HP"
	case ClassHM:
		return "HM"
	default:
		return fmt.Sprintf("CLASS(%d)", uint8(c))
	}
}

// mustValidClass panics on a class outside the closed enumeration
func mustValidClass(c DeviceClass) {
	if c >= classCount {
		panic(fmt.Sprintf("ilc: unknown device class %d", uint8(c)))
	}
}

// Device identifies one ILC on the bus
type Device struct {
	ID             int32
	Address        uint8
	Subnet         uint8
	Class          DeviceClass
	DataIndex      int
	SecondaryIndex *int
	XIndex         *int
	YIndex         *int
	Enabled        bool
}

// DualAxis returns true for force actuators with a secondary cylinder
func (d Device) DualAxis() bool {
	return d.Class == ClassFA && d.SecondaryIndex != nil
}

// String returns a short device label, e.g. "FA 101 (2:17)"
func (d Device) String() string {
	return fmt.Sprintf("%s %d (%d:%d)", d.Class, d.ID, d.Subnet, d.Address)
}

// ForceActuatorRow is one row of the force actuator table
type ForceActuatorRow struct {
	ID             int32 `yaml:"id"`
	Subnet         uint8 `yaml:"subnet"`
	Address        uint8 `yaml:"address"`
	XIndex         *int  `yaml:"x_index,omitempty"`
	YIndex         *int  `yaml:"y_index,omitempty"`
	SecondaryIndex *int  `yaml:"s_index,omitempty"`
	Disabled       bool  `yaml:"disabled,omitempty"`
}

// HardpointRow is one row of the hardpoint (or hardpoint monitor) table
type HardpointRow struct {
	ID      int32 `yaml:"id"`
	Subnet  uint8 `yaml:"subnet"`
	Address uint8 `yaml:"address"`
}

// Subnet groups the devices of one bus, in visiting order
type Subnet struct {
	Number uint8
	byClass [classCount][]int
}

// Indices returns the data indices of the devices of class c on the subnet
func (s *Subnet) Indices(c DeviceClass) []int {
	mustValidClass(c)
	return s.byClass[c]
}

type deviceRef struct {
	class DeviceClass
	index int
}

type addressKey struct {
	subnet  uint8
	address uint8
}

// DeviceMap is the static (subnet, address) to device mapping built once
// from the configuration tables. Only the Enabled flag changes after load;
// it is mutated by the control loop when it applies queued changes.
type DeviceMap struct {
	devices   [classCount][]Device
	subnets   [SubnetCount]Subnet
	byAddress map[addressKey]deviceRef
	byID      [classCount]map[int32]int
}

// BuildDeviceMap builds the device map from the three configuration tables.
// Data indices follow table order.
func BuildDeviceMap(fa []ForceActuatorRow, hp []HardpointRow, hm []HardpointRow) (*DeviceMap, error) {
	dm := &DeviceMap{
		byAddress: make(map[addressKey]deviceRef),
	}
	for i := range dm.subnets {
		dm.subnets[i].Number = uint8(i + MinSubnet)
	}
	for c := range dm.byID {
		dm.byID[c] = make(map[int32]int)
	}

	for _, row := range fa {
		d := Device{
			ID:             row.ID,
			Address:        row.Address,
			Subnet:         row.Subnet,
			Class:          ClassFA,
			SecondaryIndex: row.SecondaryIndex,
			XIndex:         row.XIndex,
			YIndex:         row.YIndex,
			Enabled:        !row.Disabled,
		}
		if err := dm.add(d); err != nil {
			return nil, err
		}
	}
	for _, row := range hp {
		if err := dm.add(Device{ID: row.ID, Address: row.Address, Subnet: row.Subnet, Class: ClassHP, Enabled: true}); err != nil {
			return nil, err
		}
	}
	for _, row := range hm {
		if err := dm.add(Device{ID: row.ID, Address: row.Address, Subnet: row.Subnet, Class: ClassHM, Enabled: true}); err != nil {
			return nil, err
		}
	}

	// Keep each subnet ordered by address so bus lists are deterministic
	for i := range dm.subnets {
		for c := range dm.subnets[i].byClass {
			idx := dm.subnets[i].byClass[c]
			devs := dm.devices[c]
			sort.SliceStable(idx, func(a, b int) bool {
				return devs[idx[a]].Address < devs[idx[b]].Address
			})
		}
	}

	return dm, nil
}

func (dm *DeviceMap) add(d Device) error {
	if d.Subnet < MinSubnet || d.Subnet > MaxSubnet {
		return fmt.Errorf("%s %d: subnet %d out of range %d-%d", d.Class, d.ID, d.Subnet, MinSubnet, MaxSubnet)
	}
	if d.Address == 0 || d.Address >= BroadcastAddress {
		return fmt.Errorf("%s %d: invalid address %d", d.Class, d.ID, d.Address)
	}
	key := addressKey{subnet: d.Subnet, address: d.Address}
	if other, ok := dm.byAddress[key]; ok {
		return fmt.Errorf("%s %d: address %d on subnet %d already used by %s", d.Class, d.ID, d.Address, d.Subnet,
			dm.devices[other.class][other.index])
	}
	if _, ok := dm.byID[d.Class][d.ID]; ok {
		return fmt.Errorf("%s %d: duplicate ID", d.Class, d.ID)
	}

	d.DataIndex = len(dm.devices[d.Class])
	dm.devices[d.Class] = append(dm.devices[d.Class], d)
	dm.byAddress[key] = deviceRef{class: d.Class, index: d.DataIndex}
	dm.byID[d.Class][d.ID] = d.DataIndex
	s := &dm.subnets[d.Subnet-MinSubnet]
	s.byClass[d.Class] = append(s.byClass[d.Class], d.DataIndex)
	return nil
}

// Subnet returns the subnet with the given number (1..5)
func (dm *DeviceMap) Subnet(subnet uint8) *Subnet {
	if subnet < MinSubnet || subnet > MaxSubnet {
		return nil
	}
	return &dm.subnets[subnet-MinSubnet]
}

// Count returns the number of devices of class c
func (dm *DeviceMap) Count(c DeviceClass) int {
	mustValidClass(c)
	return len(dm.devices[c])
}

// Devices returns a copy of all devices of class c, in data index order
func (dm *DeviceMap) Devices(c DeviceClass) []Device {
	mustValidClass(c)
	out := make([]Device, len(dm.devices[c]))
	copy(out, dm.devices[c])
	return out
}

// Device returns the device of class c with the given data index
func (dm *DeviceMap) Device(c DeviceClass, dataIndex int) Device {
	mustValidClass(c)
	return dm.devices[c][dataIndex]
}

// DevicesOnSubnet returns the devices of class c on a subnet, in bus order
func (dm *DeviceMap) DevicesOnSubnet(subnet uint8, c DeviceClass) []Device {
	s := dm.Subnet(subnet)
	if s == nil {
		return nil
	}
	idx := s.Indices(c)
	out := make([]Device, 0, len(idx))
	for _, i := range idx {
		out = append(out, dm.devices[c][i])
	}
	return out
}

// Lookup finds the device answering at address on subnet
func (dm *DeviceMap) Lookup(subnet, address uint8) (Device, bool) {
	ref, ok := dm.byAddress[addressKey{subnet: subnet, address: address}]
	if !ok {
		return Device{}, false
	}
	return dm.devices[ref.class][ref.index], true
}

// LookupActuator finds a force actuator by its actuator ID
func (dm *DeviceMap) LookupActuator(id int32) (Device, bool) {
	return dm.LookupID(ClassFA, id)
}

// LookupID finds a device of class c by its ID
func (dm *DeviceMap) LookupID(c DeviceClass, id int32) (Device, bool) {
	mustValidClass(c)
	i, ok := dm.byID[c][id]
	if !ok {
		return Device{}, false
	}
	return dm.devices[c][i], true
}

// SetEnabled enables or disables a force actuator. Returns false for an
// unknown actuator ID. Bus lists pick the change up on their next build.
func (dm *DeviceMap) SetEnabled(id int32, enabled bool) bool {
	i, ok := dm.byID[ClassFA][id]
	if !ok {
		return false
	}
	dm.devices[ClassFA][i].Enabled = enabled
	return true
}

// EnableAll enables every force actuator
func (dm *DeviceMap) EnableAll() {
	for i := range dm.devices[ClassFA] {
		dm.devices[ClassFA][i].Enabled = true
	}
}

// EnabledOnSubnet returns the enabled devices of class c on a subnet
func (dm *DeviceMap) EnabledOnSubnet(subnet uint8, c DeviceClass) []Device {
	all := dm.DevicesOnSubnet(subnet, c)
	out := all[:0]
	for _, d := range all {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}
