package config

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/muurk/tuyactl/internal/device"
	"github.com/muurk/tuyactl/internal/protocol"
)

var (
	// ErrDeviceNotFound is returned when a name or address is not in the registry
	ErrDeviceNotFound = errors.New("device not found")

	// ErrInvalidDevice is returned when device metadata fails validation
	ErrInvalidDevice = errors.New("invalid device")
)

// Registry represents the entire user configuration file.
// This stores user-entered device metadata and exchange preferences.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device name
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device represents the connection details of a single Tuya device.
// This is keyed by a user-chosen name in the Registry.
type Device struct {
	Address  string `yaml:"address"`             // IPv4 or IPv6 address (port is always 6668)
	DeviceID string `yaml:"device_id,omitempty"` // Tuya devId, used to build payloads
	Version  string `yaml:"version,omitempty"`   // Protocol version ("3.1" or "3.3")
	LocalKey string `yaml:"local_key,omitempty"` // 16 character local key
	Nickname string `yaml:"nickname,omitempty"`  // User-friendly name
}

// Preferences represents application-wide exchange preferences.
// Zero values fall back to the session defaults.
type Preferences struct {
	DefaultVersion    string        `yaml:"default_version"`               // Protocol version for devices without one
	ConnectTimeout    time.Duration `yaml:"connect_timeout,omitempty"`     // e.g. "5s"
	ReadTimeout       time.Duration `yaml:"read_timeout,omitempty"`        // e.g. "2s"
	ReceiveBufferSize int           `yaml:"receive_buffer_size,omitempty"` // Bytes per read
	OutputFormat      string        `yaml:"output_format,omitempty"`       // "detailed" or "json"
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Devices:     make(map[string]*Device),
		Preferences: defaultPreferences(),
	}
}

func defaultPreferences() *Preferences {
	return &Preferences{
		DefaultVersion: string(protocol.Version33),
		OutputFormat:   "detailed",
	}
}

// Validate checks the address, version and key of a device entry
func (d *Device) Validate() error {
	if net.ParseIP(d.Address) == nil {
		return fmt.Errorf("%w: address %q is not an IP address", ErrInvalidDevice, d.Address)
	}
	if d.Version != "" && d.Version != string(protocol.Version31) && d.Version != string(protocol.Version33) {
		return fmt.Errorf("%w: unsupported protocol version %q", ErrInvalidDevice, d.Version)
	}
	if d.LocalKey != "" && len(d.LocalKey) != protocol.KeySize {
		return fmt.Errorf("%w: local key must be %d characters, got %d", ErrInvalidDevice, protocol.KeySize, len(d.LocalKey))
	}
	return nil
}

// IP returns the parsed device address
func (d *Device) IP() net.IP {
	return net.ParseIP(d.Address)
}

// GetDevice retrieves device metadata by name.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(name string) *Device {
	return r.Devices[name]
}

// AddDevice validates and stores a device under name, replacing any
// existing entry.
func (r *Registry) AddDevice(name string, d *Device) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidDevice)
	}
	if net.ParseIP(name) != nil {
		return fmt.Errorf("%w: name %q looks like an IP address", ErrInvalidDevice, name)
	}
	if err := d.Validate(); err != nil {
		return err
	}

	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	r.Devices[name] = d
	return nil
}

// RemoveDevice deletes a device by name
func (r *Registry) RemoveDevice(name string) error {
	if _, ok := r.Devices[name]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	delete(r.Devices, name)
	return nil
}

// DeviceNames returns the registered names in sorted order
func (r *Registry) DeviceNames() []string {
	names := make([]string, 0, len(r.Devices))
	for name := range r.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveDevice looks up ref as a device name first and then as an address.
// An IP address that is not registered yields a bare entry for that address.
func (r *Registry) ResolveDevice(ref string) (string, *Device, error) {
	if d, ok := r.Devices[ref]; ok {
		return ref, d, nil
	}

	ip := net.ParseIP(ref)
	if ip == nil {
		return "", nil, fmt.Errorf("%w: %q is neither a registered name nor an IP address", ErrDeviceNotFound, ref)
	}

	for _, name := range r.DeviceNames() {
		if d := r.Devices[name]; ip.Equal(d.IP()) {
			return name, d, nil
		}
	}

	return "", &Device{Address: ip.String()}, nil
}

// VersionFor returns the protocol version to use for d
func (r *Registry) VersionFor(d *Device) string {
	if d != nil && d.Version != "" {
		return d.Version
	}
	if r.Preferences != nil && r.Preferences.DefaultVersion != "" {
		return r.Preferences.DefaultVersion
	}
	return string(protocol.Version33)
}

// ExchangeOptions converts the preferences into session options.
// Unset fields keep the session defaults.
func (p *Preferences) ExchangeOptions() *device.Options {
	opts := device.DefaultOptions()
	if p == nil {
		return opts
	}
	if p.ConnectTimeout > 0 {
		opts.ConnectTimeout = p.ConnectTimeout
	}
	if p.ReadTimeout > 0 {
		opts.ReadTimeout = p.ReadTimeout
	}
	if p.ReceiveBufferSize > 0 {
		opts.ReceiveBufferSize = p.ReceiveBufferSize
	}
	return opts
}
