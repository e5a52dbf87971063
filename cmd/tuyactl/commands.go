package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyactl/internal/config"
	"github.com/muurk/tuyactl/internal/device"
	"github.com/muurk/tuyactl/internal/protocol"
	"github.com/muurk/tuyactl/internal/ui"
)

// loadRegistry is swapped in tests to bypass the cached global registry
var loadRegistry = config.LoadRegistry

// exchangeFlags holds the flags shared by set and get
type exchangeFlags struct {
	device         string
	key            string
	protocol       string
	seq            uint32
	devID          string
	dps            []string
	format         string
	connectTimeout time.Duration
	readTimeout    time.Duration
	bufferSize     int
}

var xf exchangeFlags

func init() {
	for _, cmd := range []*cobra.Command{setCmd, getCmd} {
		addExchangeFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
	setCmd.Flags().StringArrayVar(&xf.dps, "dp", nil, "Data point to set as id=value (repeatable, value is JSON or a plain string)")
}

func addExchangeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&xf.device, "device", "d", "", "Device IP address or registered name (required)")
	cmd.Flags().StringVar(&xf.key, "key", "", "16 character local key (overrides registry)")
	cmd.Flags().StringVarP(&xf.protocol, "protocol", "p", "", "Protocol version, 3.1 or 3.3 (overrides registry)")
	cmd.Flags().Uint32Var(&xf.seq, "seq", 1, "Sequence number of the request")
	cmd.Flags().StringVar(&xf.devID, "dev-id", "", "Tuya device id used to build the payload (overrides registry)")
	cmd.Flags().StringVar(&xf.format, "format", "", "Output format (detailed, json); defaults to the registry preference")
	cmd.Flags().DurationVar(&xf.connectTimeout, "connect-timeout", 0, "TCP connect timeout (default 5s)")
	cmd.Flags().DurationVar(&xf.readTimeout, "read-timeout", 0, "Reply timeout (default 2s)")
	cmd.Flags().IntVar(&xf.bufferSize, "buffer-size", 0, "Receive buffer size in bytes (default 256)")
	_ = cmd.MarkFlagRequired("device")
}

// setCmd sends a control command
var setCmd = &cobra.Command{
	Use:   "set [payload]",
	Short: "Send a control command to a device",
	Long: `Send a control (set) command to a device.

The payload is either given verbatim as a JSON argument or built from
--dp flags together with the device id:

  {"devId":"<id>","gwId":"<id>","uid":"<id>","t":"<now>","dps":{"1":true}}

Replies from the device are printed but do not affect the exit status,
even when they carry a non-zero return code.`,
	Example: `  # Switch data point 1 on
  tuyactl set --device lamp --dp 1=true

  # Set brightness and colour mode in one command
  tuyactl set --device lamp --dp 22=500 --dp 21=white

  # Verbatim payload
  tuyactl set --device 192.168.1.40 --key 0123456789abcdef '{"devId":"bf01","dps":{"1":false},"t":"1700000000"}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExchange(cmd, args, protocol.Control)
	},
}

// getCmd sends a query command
var getCmd = &cobra.Command{
	Use:   "get [payload]",
	Short: "Query the current state of a device",
	Long: `Send a query (get) command to a device and print the decoded replies.

Without a payload argument the standard query payload is built from the
device id. Each reply frame is shown with its command, sequence number,
return code and data points.`,
	Example: `  # Query a registered device
  tuyactl get --device lamp

  # Query by IP with explicit credentials
  tuyactl get --device 192.168.1.40 --key 0123456789abcdef --dev-id bf01234567

  # Machine-readable output
  tuyactl get --device lamp --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExchange(cmd, args, protocol.DpQuery)
	},
}

// target is a fully resolved device to talk to
type target struct {
	name    string
	ip      net.IP
	version string
	key     string
	devID   string
}

// label returns "name (ip:6668)" or just the endpoint
func (t *target) label() string {
	ep := device.NewEndpoint(t.ip).String()
	if t.name == "" {
		return ep
	}
	return fmt.Sprintf("%s (%s)", t.name, ep)
}

// resolveTarget combines the registry entry for f.device with flag overrides
func resolveTarget(reg *config.Registry, f exchangeFlags) (*target, error) {
	if f.device == "" {
		return nil, errors.New("--device is required")
	}

	name, d, err := reg.ResolveDevice(f.device)
	if err != nil {
		return nil, err
	}

	t := &target{
		name:    name,
		ip:      d.IP(),
		version: reg.VersionFor(d),
		key:     d.LocalKey,
		devID:   d.DeviceID,
	}
	if f.protocol != "" {
		t.version = f.protocol
	}
	if f.key != "" {
		t.key = f.key
	}
	if f.devID != "" {
		t.devID = f.devID
	}
	return t, nil
}

// parseDPs parses "id=value" pairs. Values that are valid JSON keep their
// type; anything else is sent as a string.
func parseDPs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	dps := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		id, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --dp %q: expected id=value", pair)
		}
		if n, err := strconv.Atoi(id); err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid --dp %q: id must be a positive number", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		dps[id] = value
	}
	return dps, nil
}

// buildPayload returns the request payload: the verbatim argument if given,
// otherwise the standard JSON document for the target.
func buildPayload(args []string, t *target, dps map[string]any, command protocol.CommandType, now time.Time) (string, error) {
	if len(args) == 1 {
		if len(dps) > 0 {
			return "", errors.New("pass either a payload argument or --dp flags, not both")
		}
		return args[0], nil
	}

	if command == protocol.Control && len(dps) == 0 {
		return "", errors.New("nothing to set: pass a JSON payload or at least one --dp")
	}
	if t.devID == "" {
		return "", errors.New("a device id is needed to build the payload: use --dev-id or register it with 'tuyactl devices add'")
	}

	data, err := protocol.BuildPayload(t.devID, dps, now)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// exchangeOptions layers changed flags over the registry preferences
func exchangeOptions(cmd *cobra.Command, prefs *config.Preferences, f exchangeFlags) *device.Options {
	opts := prefs.ExchangeOptions()
	if cmd.Flags().Changed("connect-timeout") {
		opts.ConnectTimeout = f.connectTimeout
	}
	if cmd.Flags().Changed("read-timeout") {
		opts.ReadTimeout = f.readTimeout
	}
	if cmd.Flags().Changed("buffer-size") {
		opts.ReceiveBufferSize = f.bufferSize
	}
	return opts
}

// outputFormat picks the --format flag, then the preference, then "detailed"
func outputFormat(prefs *config.Preferences, flag string) (string, error) {
	format := flag
	if format == "" && prefs != nil {
		format = prefs.OutputFormat
	}
	switch format {
	case "", "detailed":
		return "detailed", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("unknown output format %q (use detailed or json)", format)
	}
}

func runExchange(cmd *cobra.Command, args []string, command protocol.CommandType) error {
	reg, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	format, err := outputFormat(reg.Preferences, xf.format)
	if err != nil {
		return err
	}

	t, err := resolveTarget(reg, xf)
	if err != nil {
		return err
	}

	dps, err := parseDPs(xf.dps)
	if err != nil {
		return err
	}

	payload, err := buildPayload(args, t, dps, command, time.Now())
	if err != nil {
		return err
	}

	var replies []*protocol.Message
	opts := exchangeOptions(cmd, reg.Preferences, xf)
	opts.Observer = func(seqID uint32, msg *protocol.Message) {
		device.LogObserver(seqID, msg)
		replies = append(replies, msg)
	}

	out := cmd.OutOrStdout()
	p := ui.NewPrinter(out)
	detailed := format == "detailed"

	title, verb := "Device Query", "Querying"
	if command == protocol.Control {
		title, verb = "Device Control", "Sending to"
	}

	sess, err := device.NewSession(t.version, t.key, t.ip, opts)
	if err != nil {
		if detailed {
			p.PrintError(title+" failed", err, device.GetTroubleshootingHint(err))
		}
		return err
	}

	if detailed {
		p.PrintHeader(title, "tuyactl "+cmd.Name(),
			ui.Param{Key: "Device", Value: t.label()},
			ui.Param{Key: "Protocol", Value: t.version},
			ui.Param{Key: "Seq", Value: strconv.FormatUint(uint64(xf.seq), 10)},
			ui.Param{Key: "Payload", Value: payload},
		)
	}

	start := time.Now()
	err = ui.RunWithSpinner(cmd.Context(), out, verb+" "+sess.Endpoint().String()+"...", func(ctx context.Context) error {
		if command == protocol.Control {
			return sess.SetWithContext(ctx, payload, xf.seq)
		}
		_, err := sess.GetWithContext(ctx, payload, xf.seq)
		return err
	})
	if err != nil {
		if detailed {
			p.PrintError(title+" failed", err, device.GetTroubleshootingHint(err))
		}
		return errors.New(device.GetShortErrorMessage(err))
	}

	if !detailed {
		return p.PrintMessagesJSON(replies)
	}

	details := []ui.Param{
		{Key: "Device", Value: t.label()},
		{Key: "Replies", Value: strconv.Itoa(len(replies))},
		{Key: "Duration", Value: time.Since(start).Round(time.Millisecond).String()},
	}
	if rc, ok := firstErrorCode(replies); ok {
		p.PrintWarning("Device replied with return code "+strconv.FormatUint(uint64(rc), 10), details...)
	} else if command == protocol.Control {
		p.PrintSuccess("Command sent", details...)
	} else {
		p.PrintSuccess("Query complete", details...)
	}

	if len(replies) > 0 {
		p.Newline()
		p.PrintMessages(replies)
	}
	return nil
}

// firstErrorCode returns the first non-zero device return code
func firstErrorCode(msgs []*protocol.Message) (uint32, bool) {
	for _, msg := range msgs {
		if msg.RetCode != nil && *msg.RetCode != 0 {
			return *msg.RetCode, true
		}
	}
	return 0, false
}
