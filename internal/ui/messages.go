package ui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/muurk/tuyactl/internal/protocol"
)

// RenderMessage renders one decoded device message as a panel. index is
// 1-based and only used in the title.
func RenderMessage(index int, msg *protocol.Message, width int) string {
	width = clampWidth(width)

	title := MessageTitleStyle.Render(fmt.Sprintf("  Message %d  ─  %s (0x%02X)  ─  seq %d",
		index, msg.Command, uint32(msg.Command), msg.SeqNr))
	lines := []string{title, ""}

	if msg.RetCode != nil {
		rc := strconv.FormatUint(uint64(*msg.RetCode), 10)
		if *msg.RetCode != 0 {
			rc = ReturnCodeStyle.Render(rc)
		}
		lines = append(lines, ResultKeyStyle.Render("  Return code:")+" "+rc)
	}

	switch {
	case msg.Payload.Data != nil && len(msg.Payload.Data.DPS) > 0:
		if msg.Payload.Data.DevID != "" {
			lines = append(lines, ResultKeyStyle.Render("  Device ID:")+" "+ResultValueStyle.Render(msg.Payload.Data.DevID))
		}
		if msg.Payload.Data.T != 0 {
			lines = append(lines, ResultKeyStyle.Render("  Timestamp:")+" "+
				ResultValueStyle.Render(msg.Payload.Data.T.Time().UTC().Format("2006-01-02 15:04:05Z")))
		}
		lines = append(lines, ResultKeyStyle.Render("  Data points:"))
		for _, dp := range sortedDPS(msg.Payload.Data.DPS) {
			lines = append(lines, ResultKeyStyle.Render("    "+dp.Key)+" "+ResultValueStyle.Render(dp.Value))
		}
	default:
		lines = append(lines, ResultKeyStyle.Render("  Payload:")+" "+ResultValueStyle.Render(msg.Payload.String()))
	}

	return PanelStyle(width, MutedColor).Render(strings.Join(lines, "\n"))
}

// RenderMessages renders every message, or a note when there are none
func RenderMessages(msgs []*protocol.Message, width int) string {
	if len(msgs) == 0 {
		return TroubleshootingItemStyle.Render("  (device sent an empty reply)")
	}
	panels := make([]string, 0, len(msgs))
	for i, msg := range msgs {
		panels = append(panels, RenderMessage(i+1, msg, width))
	}
	return strings.Join(panels, "\n")
}

// sortedDPS orders data points numerically by id where possible
func sortedDPS(dps map[string]any) []Param {
	params := make([]Param, 0, len(dps))
	for k, v := range dps {
		params = append(params, Param{Key: k, Value: formatDPValue(v)})
	}
	sort.Slice(params, func(i, j int) bool {
		a, errA := strconv.Atoi(params[i].Key)
		b, errB := strconv.Atoi(params[j].Key)
		if errA == nil && errB == nil {
			return a < b
		}
		return params[i].Key < params[j].Key
	})
	return params
}

func formatDPValue(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case nil:
		return "null"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// jsonMessage is the machine-readable form of a decoded message
type jsonMessage struct {
	Seq         uint32          `json:"seq"`
	Command     string          `json:"command"`
	CommandCode uint32          `json:"command_code"`
	RetCode     *uint32         `json:"ret_code,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Raw         string          `json:"raw,omitempty"`
}

// MessagesJSON encodes decoded messages as an indented JSON array. Payloads
// that are valid JSON are embedded as-is, anything else is kept as a string.
func MessagesJSON(msgs []*protocol.Message) ([]byte, error) {
	out := make([]jsonMessage, 0, len(msgs))
	for _, msg := range msgs {
		m := jsonMessage{
			Seq:         msg.SeqNr,
			Command:     msg.Command.String(),
			CommandCode: uint32(msg.Command),
			RetCode:     msg.RetCode,
		}
		switch {
		case msg.Payload.IsEmpty():
		case json.Valid(msg.Payload.Raw):
			m.Payload = json.RawMessage(msg.Payload.Raw)
		default:
			m.Raw = string(msg.Payload.Raw)
		}
		out = append(out, m)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode messages: %w", err)
	}
	return data, nil
}
