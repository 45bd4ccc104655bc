package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	modbus "github.com/dpicheo/j2mod"
)

var infoExtended bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read device identification (FC43/MEI 0x0E)",
	Long: `Read the device identification objects: vendor name, product code,
revision, and any regular or extended objects the device exposes.`,
	Example: `  modbuscli info -H 192.168.1.100
  modbuscli info --extended`,
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoExtended, "extended", false, "Also read regular and extended objects")
}

var objectNames = map[uint8]string{
	modbus.DeviceIDObjectVendorName:          "VendorName",
	modbus.DeviceIDObjectProductCode:         "ProductCode",
	modbus.DeviceIDObjectMajorMinorRevision:  "Revision",
	modbus.DeviceIDObjectVendorURL:           "VendorURL",
	modbus.DeviceIDObjectProductName:         "ProductName",
	modbus.DeviceIDObjectModelName:           "ModelName",
	modbus.DeviceIDObjectUserApplicationName: "UserApplicationName",
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withMaster(func(ctx context.Context, m *modbus.Master) error {
		code := modbus.DeviceIDBasic
		if infoExtended {
			code = modbus.DeviceIDExtended
		}

		// A device may stream its objects across several responses; follow
		// MoreFollows until done.
		objects := []modbus.DeviceIDObject{}
		next := uint8(0)
		for {
			resp, err := m.ReadDeviceIdentification(ctx, code, next)
			if err != nil {
				return fmt.Errorf("read device identification failed: %w", err)
			}
			objects = append(objects, resp.Objects...)
			if resp.MoreFollows != 0xFF {
				break
			}
			next = resp.NextObjectID
		}

		if len(objects) == 0 {
			outputWarning("device returned no identification objects")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOBJECT\tVALUE")
		for _, obj := range objects {
			name := objectNames[obj.ID]
			if name == "" {
				name = fmt.Sprintf("Object_0x%02X", obj.ID)
			}
			fmt.Fprintf(w, "0x%02X\t%s\t%s\n", obj.ID, name, obj.Value)
		}
		return w.Flush()
	})
}
