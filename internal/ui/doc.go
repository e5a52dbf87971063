// Package ui provides terminal UI components for the tuyactl CLI.
//
// This package uses Bubble Tea and Lipgloss to render terminal output for
// device exchanges. Components follow a "run once and exit" pattern: they
// render a result and return, without interactive screens.
//
// # Components
//
//   - Header: command banner showing the operation and its target
//   - Result: success/failure/warning boxes, failures with troubleshooting tips
//   - RenderMessages: one panel per decoded device message (data points,
//     return codes, raw payloads)
//   - MessagesJSON: the same messages as a JSON array for scripting
//   - RunWithSpinner: animated spinner around a blocking exchange
//   - Printer: writes all of the above to an io.Writer
//
// # Usage Pattern
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Device Query", "tuyactl get",
//	    ui.Param{Key: "Device", Value: sess.Endpoint().String()},
//	    ui.Param{Key: "Seq", Value: "1"},
//	)
//
//	var msgs []*protocol.Message
//	err := ui.RunWithSpinner(ctx, os.Stdout, "Querying device...", func(ctx context.Context) error {
//	    var err error
//	    msgs, err = sess.GetWithContext(ctx, payload, 1)
//	    return err
//	})
//	if err != nil {
//	    p.PrintError("Query failed", err, device.GetTroubleshootingHint(err))
//	    return err
//	}
//	p.PrintMessages(msgs)
//
// The spinner is only drawn when the writer is a terminal, so piped output
// stays clean.
//
// # Logging Integration
//
// This package expects logging to be controlled via the TUYACTL_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly.
package ui
