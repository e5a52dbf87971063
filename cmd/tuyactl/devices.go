package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyactl/internal/config"
	"github.com/muurk/tuyactl/internal/ui"
)

var (
	addAddress  string
	addDevID    string
	addKey      string
	addProtocol string
	addNickname string
	listFormat  string
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage registered devices",
	Long: `Manage the device registry.

Registered devices can be addressed by name with --device, and supply the
local key, device id and protocol version so they need not be passed on
every command. The registry is stored in config.yaml under the user
config directory (override with TUYACTL_CONFIG_DIR).`,
}

var devicesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered devices",
	Args:    cobra.NoArgs,
	RunE:    runDevicesList,
}

var devicesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a device or update an existing one",
	Example: `  tuyactl devices add lamp --address 192.168.1.40 --dev-id bf01234567 --key 0123456789abcdef
  tuyactl devices add heater --address 192.168.1.41 --protocol 3.1 --nickname "Office heater"`,
	Args: cobra.ExactArgs(1),
	RunE: runDevicesAdd,
}

var devicesRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a registered device",
	Args:    cobra.ExactArgs(1),
	RunE:    runDevicesRemove,
}

func init() {
	devicesAddCmd.Flags().StringVarP(&addAddress, "address", "a", "", "Device IP address (required)")
	devicesAddCmd.Flags().StringVar(&addDevID, "dev-id", "", "Tuya device id")
	devicesAddCmd.Flags().StringVar(&addKey, "key", "", "16 character local key")
	devicesAddCmd.Flags().StringVarP(&addProtocol, "protocol", "p", "", "Protocol version, 3.1 or 3.3 (default from preferences)")
	devicesAddCmd.Flags().StringVar(&addNickname, "nickname", "", "Friendly name shown in listings")
	_ = devicesAddCmd.MarkFlagRequired("address")

	devicesListCmd.Flags().StringVar(&listFormat, "format", "", "Output format (detailed, json)")

	devicesCmd.AddCommand(devicesListCmd, devicesAddCmd, devicesRemoveCmd)
	rootCmd.AddCommand(devicesCmd)
}

// deviceEntry is the JSON form of a registered device; the key itself is
// never printed
type deviceEntry struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	DeviceID string `json:"device_id,omitempty"`
	Version  string `json:"version"`
	HasKey   bool   `json:"has_key"`
	Nickname string `json:"nickname,omitempty"`
}

func deviceEntries(reg *config.Registry) []deviceEntry {
	entries := make([]deviceEntry, 0, len(reg.Devices))
	for _, name := range reg.DeviceNames() {
		d := reg.Devices[name]
		entries = append(entries, deviceEntry{
			Name:     name,
			Address:  d.Address,
			DeviceID: d.DeviceID,
			Version:  reg.VersionFor(d),
			HasKey:   d.LocalKey != "",
			Nickname: d.Nickname,
		})
	}
	return entries
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	format, err := outputFormat(reg.Preferences, listFormat)
	if err != nil {
		return err
	}

	entries := deviceEntries(reg)
	p := ui.NewPrinter(cmd.OutOrStdout())

	if format == "json" {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		p.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		p.Println("No devices registered. Add one with 'tuyactl devices add <name> --address <ip>'.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		key := "unset"
		if e.HasKey {
			key = "set"
		}
		rows = append(rows, []string{e.Name, e.Address, e.Version, orDash(e.DeviceID), key, orDash(e.Nickname)})
	}
	p.PrintTable([]string{"NAME", "ADDRESS", "VERSION", "DEVICE ID", "KEY", "NICKNAME"}, rows)
	return nil
}

func runDevicesAdd(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	name := args[0]
	d := &config.Device{
		Address:  addAddress,
		DeviceID: addDevID,
		Version:  addProtocol,
		LocalKey: addKey,
		Nickname: addNickname,
	}

	_, existed := reg.Devices[name]
	if err := reg.AddDevice(name, d); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	title := "Device added"
	if existed {
		title = "Device updated"
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess(title,
		ui.Param{Key: "Name", Value: name},
		ui.Param{Key: "Address", Value: d.Address},
		ui.Param{Key: "Protocol", Value: reg.VersionFor(d)},
	)
	return nil
}

func runDevicesRemove(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := reg.RemoveDevice(args[0]); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Device removed", ui.Param{Key: "Name", Value: args[0]})
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
