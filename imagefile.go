// Copyright 2025 The j2mod Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ImageDefinition is the YAML description of a process image: the units
// a slave exposes and their initial point values. The daemon loads one of
// these, builds a ProcessImage from it and serves it.
type ImageDefinition struct {
	Units []UnitDefinition `yaml:"units"`
}

// UnitDefinition describes one unit's banks and initial values.
type UnitDefinition struct {
	ID               uint8              `yaml:"id"`
	Coils            []BitBlock         `yaml:"coils"`
	DiscreteInputs   []BitBlock         `yaml:"discrete_inputs"`
	HoldingRegisters []RegisterBlock    `yaml:"holding_registers"`
	InputRegisters   []RegisterBlock    `yaml:"input_registers"`
	Files            []FileDefinition   `yaml:"files"`
	FIFOs            []FIFODefinition   `yaml:"fifo_queues"`
	ServerID         string             `yaml:"server_id"`
	DeviceID         []ObjectDefinition `yaml:"device_identification"`
}

// BitBlock is a run of coil or discrete-input values starting at Address.
type BitBlock struct {
	Address uint16 `yaml:"address"`
	Values  []bool `yaml:"values"`
}

// RegisterBlock is a run of register values starting at Address.
type RegisterBlock struct {
	Address uint16   `yaml:"address"`
	Values  []uint16 `yaml:"values"`
}

// FileDefinition describes one record file. Records beyond the initial
// values are zero-filled.
type FileDefinition struct {
	Number       uint16     `yaml:"number"`
	Records      int        `yaml:"records"`
	RecordLength int        `yaml:"record_length"`
	Initial      [][]uint16 `yaml:"initial"`
}

// FIFODefinition describes one FIFO queue and its initial contents.
type FIFODefinition struct {
	Pointer uint16   `yaml:"pointer"`
	Values  []uint16 `yaml:"values"`
}

// ObjectDefinition is one device-identification object.
type ObjectDefinition struct {
	ID    uint8  `yaml:"id"`
	Value string `yaml:"value"`
}

// LoadImageDefinition reads and parses an image definition file. The
// result is validated; use Build to turn it into a ProcessImage.
func LoadImageDefinition(path string) (*ImageDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image definition: %w", err)
	}
	return ParseImageDefinition(data)
}

// ParseImageDefinition parses an image definition from YAML bytes.
func ParseImageDefinition(data []byte) (*ImageDefinition, error) {
	var def ImageDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse image definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition for correctness. It does not mutate the
// definition.
func (d *ImageDefinition) Validate() error {
	if len(d.Units) == 0 {
		return fmt.Errorf("image definition: no units defined")
	}

	seen := make(map[uint8]bool)
	for _, u := range d.Units {
		if seen[u.ID] {
			return fmt.Errorf("image definition: duplicate unit %d", u.ID)
		}
		seen[u.ID] = true

		for _, b := range u.Coils {
			if err := checkBitBlock("coils", u.ID, b); err != nil {
				return err
			}
		}
		for _, b := range u.DiscreteInputs {
			if err := checkBitBlock("discrete_inputs", u.ID, b); err != nil {
				return err
			}
		}
		for _, b := range u.HoldingRegisters {
			if err := checkRegisterBlock("holding_registers", u.ID, b); err != nil {
				return err
			}
		}
		for _, b := range u.InputRegisters {
			if err := checkRegisterBlock("input_registers", u.ID, b); err != nil {
				return err
			}
		}

		for _, f := range u.Files {
			if f.Records <= 0 || f.Records > 10000 {
				return fmt.Errorf("unit %d file %d: records must be 1..10000, got %d",
					u.ID, f.Number, f.Records)
			}
			// A record must fit one write sub-request.
			if f.RecordLength <= 0 || f.RecordLength > 122 {
				return fmt.Errorf("unit %d file %d: record_length must be 1..122, got %d",
					u.ID, f.Number, f.RecordLength)
			}
			if len(f.Initial) > f.Records {
				return fmt.Errorf("unit %d file %d: %d initial records exceed the %d declared",
					u.ID, f.Number, len(f.Initial), f.Records)
			}
			for i, rec := range f.Initial {
				if len(rec) > f.RecordLength {
					return fmt.Errorf("unit %d file %d record %d: %d words exceed record_length %d",
						u.ID, f.Number, i, len(rec), f.RecordLength)
				}
			}
		}

		for _, q := range u.FIFOs {
			if len(q.Values) > MaxFIFOCount {
				return fmt.Errorf("unit %d fifo %d: %d values exceed the queue limit %d",
					u.ID, q.Pointer, len(q.Values), MaxFIFOCount)
			}
		}

		for _, obj := range u.DeviceID {
			if len(obj.Value) > 245 {
				return fmt.Errorf("unit %d device object %d: value too long (%d bytes)",
					u.ID, obj.ID, len(obj.Value))
			}
		}
		if len(u.ServerID) > 250 {
			return fmt.Errorf("unit %d: server_id too long (%d bytes)", u.ID, len(u.ServerID))
		}
	}
	return nil
}

func checkBitBlock(bank string, unit uint8, b BitBlock) error {
	if len(b.Values) == 0 {
		return fmt.Errorf("unit %d %s @%d: empty block", unit, bank, b.Address)
	}
	if int(b.Address)+len(b.Values) > 0x10000 {
		return fmt.Errorf("unit %d %s @%d: %d values run past the address space",
			unit, bank, b.Address, len(b.Values))
	}
	return nil
}

func checkRegisterBlock(bank string, unit uint8, b RegisterBlock) error {
	if len(b.Values) == 0 {
		return fmt.Errorf("unit %d %s @%d: empty block", unit, bank, b.Address)
	}
	if int(b.Address)+len(b.Values) > 0x10000 {
		return fmt.Errorf("unit %d %s @%d: %d values run past the address space",
			unit, bank, b.Address, len(b.Values))
	}
	return nil
}

// Build constructs a ProcessImage populated with the definition's units
// and initial values.
func (d *ImageDefinition) Build() (*ProcessImage, error) {
	image := NewProcessImage()
	for _, u := range d.Units {
		unit := UnitID(u.ID)
		image.AddUnit(unit)

		for _, b := range u.Coils {
			if err := image.WriteMultipleCoils(unit, b.Address, b.Values); err != nil {
				return nil, fmt.Errorf("unit %d coils @%d: %w", u.ID, b.Address, err)
			}
		}
		for _, b := range u.DiscreteInputs {
			for i, v := range b.Values {
				if err := image.SetDiscreteInput(unit, b.Address+uint16(i), v); err != nil {
					return nil, fmt.Errorf("unit %d discrete_inputs @%d: %w", u.ID, b.Address, err)
				}
			}
		}
		for _, b := range u.HoldingRegisters {
			if err := image.WriteMultipleRegisters(unit, b.Address, b.Values); err != nil {
				return nil, fmt.Errorf("unit %d holding_registers @%d: %w", u.ID, b.Address, err)
			}
		}
		for _, b := range u.InputRegisters {
			for i, v := range b.Values {
				if err := image.SetInputRegister(unit, b.Address+uint16(i), v); err != nil {
					return nil, fmt.Errorf("unit %d input_registers @%d: %w", u.ID, b.Address, err)
				}
			}
		}

		for _, f := range u.Files {
			if err := image.AddFile(unit, f.Number, f.Records, f.RecordLength); err != nil {
				return nil, fmt.Errorf("unit %d file %d: %w", u.ID, f.Number, err)
			}
			for i, rec := range f.Initial {
				if len(rec) == 0 {
					continue
				}
				if err := image.WriteFileRecord(unit, f.Number, uint16(i), rec); err != nil {
					return nil, fmt.Errorf("unit %d file %d record %d: %w", u.ID, f.Number, i, err)
				}
			}
		}

		for _, q := range u.FIFOs {
			if err := image.SetFIFOQueue(unit, q.Pointer, q.Values); err != nil {
				return nil, fmt.Errorf("unit %d fifo %d: %w", u.ID, q.Pointer, err)
			}
		}

		if u.ServerID != "" {
			if err := image.SetServerID(unit, []byte(u.ServerID), true); err != nil {
				return nil, fmt.Errorf("unit %d server_id: %w", u.ID, err)
			}
		}
		if len(u.DeviceID) > 0 {
			objects := make([]DeviceIDObject, 0, len(u.DeviceID))
			for _, obj := range u.DeviceID {
				objects = append(objects, DeviceIDObject{ID: obj.ID, Value: []byte(obj.Value)})
			}
			if err := image.SetDeviceIdentification(unit, objects); err != nil {
				return nil, fmt.Errorf("unit %d device_identification: %w", u.ID, err)
			}
		}
	}
	return image, nil
}

// UnitIDs returns the unit IDs named by the definition.
func (d *ImageDefinition) UnitIDs() []UnitID {
	ids := make([]UnitID, 0, len(d.Units))
	for _, u := range d.Units {
		ids = append(ids, UnitID(u.ID))
	}
	return ids
}
