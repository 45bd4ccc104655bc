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
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testImageYAML = `
units:
  - id: 1
    coils:
      - address: 0
        values: [true, false, true]
    discrete_inputs:
      - address: 10
        values: [true, true]
    holding_registers:
      - address: 0
        values: [100, 200, 300]
    input_registers:
      - address: 5
        values: [7]
    files:
      - number: 4
        records: 3
        record_length: 10
        initial:
          - [1, 2, 3]
    fifo_queues:
      - pointer: 1246
        values: [440, 4740]
    server_id: pump-7
    device_identification:
      - id: 0
        value: j2mod
      - id: 1
        value: X-1
      - id: 2
        value: "1.0"
  - id: 2
    holding_registers:
      - address: 0
        values: [1]
`

func TestParseImageDefinition(t *testing.T) {
	def, err := ParseImageDefinition([]byte(testImageYAML))
	if err != nil {
		t.Fatalf("ParseImageDefinition: %v", err)
	}
	if got := def.UnitIDs(); !reflect.DeepEqual(got, []UnitID{1, 2}) {
		t.Errorf("UnitIDs = %v", got)
	}

	img, err := def.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	coils, err := img.ReadCoils(1, 0, 3)
	if err != nil || !reflect.DeepEqual(coils, []bool{true, false, true}) {
		t.Errorf("coils = %v %v", coils, err)
	}
	inputs, err := img.ReadDiscreteInputs(1, 10, 2)
	if err != nil || !reflect.DeepEqual(inputs, []bool{true, true}) {
		t.Errorf("discrete inputs = %v %v", inputs, err)
	}
	regs, err := img.ReadHoldingRegisters(1, 0, 3)
	if err != nil || !reflect.DeepEqual(regs, []uint16{100, 200, 300}) {
		t.Errorf("holding registers = %v %v", regs, err)
	}
	in, err := img.ReadInputRegisters(1, 5, 1)
	if err != nil || in[0] != 7 {
		t.Errorf("input register = %v %v", in, err)
	}

	words, err := img.ReadFileRecord(1, 4, 0, 3)
	if err != nil || !reflect.DeepEqual(words, []uint16{1, 2, 3}) {
		t.Errorf("file record = %v %v", words, err)
	}
	fifo, err := img.ReadFIFOQueue(1, 1246)
	if err != nil || !reflect.DeepEqual(fifo, []uint16{440, 4740}) {
		t.Errorf("fifo = %v %v", fifo, err)
	}

	id, err := img.ServerID(1)
	if err != nil || !bytes.Equal(id, append([]byte("pump-7"), 0xFF)) {
		t.Errorf("server id = % X %v", id, err)
	}
	objects, _, err := img.DeviceIdentification(1, DeviceIDBasic, 0)
	if err != nil || len(objects) != 3 {
		t.Errorf("device identification = %v %v", objects, err)
	}

	if regs, err := img.ReadHoldingRegisters(2, 0, 1); err != nil || regs[0] != 1 {
		t.Errorf("unit 2 register = %v %v", regs, err)
	}
}

func TestLoadImageDefinition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.yaml")
	if err := os.WriteFile(path, []byte(testImageYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	def, err := LoadImageDefinition(path)
	if err != nil {
		t.Fatalf("LoadImageDefinition: %v", err)
	}
	if len(def.Units) != 2 {
		t.Errorf("len(Units) = %d, want 2", len(def.Units))
	}

	if _, err := LoadImageDefinition(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadImageDefinition accepted a missing file")
	}
}

func TestImageDefinitionValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"no units",
			`units: []`,
			"no units",
		},
		{
			"duplicate unit",
			"units:\n  - id: 1\n  - id: 1\n",
			"duplicate unit",
		},
		{
			"empty block",
			"units:\n  - id: 1\n    coils:\n      - address: 0\n        values: []\n",
			"empty block",
		},
		{
			"address overflow",
			"units:\n  - id: 1\n    holding_registers:\n      - address: 65535\n        values: [1, 2]\n",
			"address space",
		},
		{
			"record length",
			"units:\n  - id: 1\n    files:\n      - number: 1\n        records: 1\n        record_length: 123\n",
			"record_length",
		},
		{
			"oversized fifo",
			"units:\n  - id: 1\n    fifo_queues:\n      - pointer: 0\n        values: [" + strings.Repeat("0, ", 31) + "0]\n",
			"queue limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseImageDefinition([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseImageDefinition accepted an invalid definition")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestImageDefinitionRejectsMalformedYAML(t *testing.T) {
	if _, err := ParseImageDefinition([]byte("units: [not a map")); err == nil {
		t.Error("ParseImageDefinition accepted malformed YAML")
	}
}
