// Package config provides user configuration management for tuyactl.
//
// This package manages a YAML-based configuration file that stores the
// connection details of known Tuya devices (address, device id, protocol
// version, local key) under user-chosen names, plus exchange preferences
// such as timeouts and the receive buffer size. The configuration follows
// OS-specific conventions for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/tuyactl/config.yaml or $HOME/.config/tuyactl/config.yaml
//   - macOS: $HOME/.config/tuyactl/config.yaml
//   - Windows: %LOCALAPPDATA%\tuyactl\config.yaml
//
// TUYACTL_CONFIG_DIR overrides the directory on every platform.
//
// # Security
//
// Local keys are stored in plain text. The file is written with mode 0600
// and its directory with mode 0700.
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = registry.AddDevice("lamp", &config.Device{
//	    Address:  "192.168.1.40",
//	    DeviceID: "bf0123456789abcdef",
//	    Version:  "3.3",
//	    LocalKey: "0123456789abcdef",
//	})
//
//	// Names and addresses resolve to the same entry
//	name, dev, err := registry.ResolveDevice("192.168.1.40")
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File writes are protected by a mutex. Registry values themselves are not
// synchronized.
package config
