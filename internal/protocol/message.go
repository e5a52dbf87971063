package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CommandType is the Tuya command opcode carried in every frame
type CommandType uint32

// Tuya LAN command types
const (
	UDP                   CommandType = 0x00
	APConfig              CommandType = 0x01
	Active                CommandType = 0x02
	SessionKeyNegStart    CommandType = 0x03
	SessionKeyNegResponse CommandType = 0x04
	SessionKeyNegFinish   CommandType = 0x05
	Unbind                CommandType = 0x06
	Control               CommandType = 0x07 // State-changing "set"
	Status                CommandType = 0x08 // Unsolicited status report
	HeartBeat             CommandType = 0x09
	DpQuery               CommandType = 0x0a // State-reading "get"
	QueryWifi             CommandType = 0x0b
	TokenBind             CommandType = 0x0c
	ControlNew            CommandType = 0x0d
	EnableWifi            CommandType = 0x0e
	DpQueryNew            CommandType = 0x10
	SceneExecute          CommandType = 0x11
	UpdateDps             CommandType = 0x12
	UDPNew                CommandType = 0x13
	APConfigNew           CommandType = 0x14
	LanGwActive           CommandType = 0xf0
	LanSubDevRequest      CommandType = 0xf1
	LanDeleteSubDev       CommandType = 0xf2
	LanReportSubDev       CommandType = 0xf3
	LanScene              CommandType = 0xf4
	LanPublishCloudConfig CommandType = 0xf5
	LanPublishAppConfig   CommandType = 0xf6
	LanExportAppConfig    CommandType = 0xf7
	LanPublishScenePanel  CommandType = 0xf8
	LanRemoveGw           CommandType = 0xf9
	LanCheckGwUpdate      CommandType = 0xfa
	LanGwUpdate           CommandType = 0xfb
	LanSetGwChannel       CommandType = 0xfc
)

var commandNames = map[CommandType]string{
	UDP:                   "UDP",
	APConfig:              "APConfig",
	Active:                "Active",
	SessionKeyNegStart:    "SessionKeyNegStart",
	SessionKeyNegResponse: "SessionKeyNegResponse",
	SessionKeyNegFinish:   "SessionKeyNegFinish",
	Unbind:                "Unbind",
	Control:               "Control",
	Status:                "Status",
	HeartBeat:             "HeartBeat",
	DpQuery:               "DpQuery",
	QueryWifi:             "QueryWifi",
	TokenBind:             "TokenBind",
	ControlNew:            "ControlNew",
	EnableWifi:            "EnableWifi",
	DpQueryNew:            "DpQueryNew",
	SceneExecute:          "SceneExecute",
	UpdateDps:             "UpdateDps",
	UDPNew:                "UDPNew",
	APConfigNew:           "APConfigNew",
	LanGwActive:           "LanGwActive",
	LanSubDevRequest:      "LanSubDevRequest",
	LanDeleteSubDev:       "LanDeleteSubDev",
	LanReportSubDev:       "LanReportSubDev",
	LanScene:              "LanScene",
	LanPublishCloudConfig: "LanPublishCloudConfig",
	LanPublishAppConfig:   "LanPublishAppConfig",
	LanExportAppConfig:    "LanExportAppConfig",
	LanPublishScenePanel:  "LanPublishScenePanel",
	LanRemoveGw:           "LanRemoveGw",
	LanCheckGwUpdate:      "LanCheckGwUpdate",
	LanGwUpdate:           "LanGwUpdate",
	LanSetGwChannel:       "LanSetGwChannel",
}

// String returns a human-readable command name
func (c CommandType) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", uint32(c))
}

// needsVersionHeader reports whether a 3.3 frame for this command carries the
// 15 byte version header in front of the ciphertext.
func (c CommandType) needsVersionHeader() bool {
	switch c {
	case DpQuery, DpQueryNew, UpdateDps, HeartBeat:
		return false
	default:
		return true
	}
}

// Message is a single decoded or to-be-encoded Tuya frame
type Message struct {
	Payload Payload
	Command CommandType
	SeqNr   uint32
	RetCode *uint32 // Set only on device replies that carry a return code
}

// NewMessage creates an outbound message
func NewMessage(payload []byte, command CommandType, seqNr uint32) *Message {
	return &Message{
		Payload: NewPayload(payload),
		Command: command,
		SeqNr:   seqNr,
	}
}

// String returns a debug representation of the message
func (m *Message) String() string {
	rc := "none"
	if m.RetCode != nil {
		rc = strconv.FormatUint(uint64(*m.RetCode), 10)
	}
	return fmt.Sprintf("Message{command=%s, seq=%d, ret_code=%s, payload=%s}",
		m.Command, m.SeqNr, rc, m.Payload.String())
}

// Payload holds the raw (plaintext) payload bytes and, when they form a JSON
// object, the decoded structure.
type Payload struct {
	Raw  []byte
	Data *PayloadStruct
}

// NewPayload wraps raw plaintext, decoding it as a PayloadStruct when possible
func NewPayload(raw []byte) Payload {
	p := Payload{Raw: raw}
	if len(raw) > 0 && raw[0] == '{' {
		var data PayloadStruct
		if err := json.Unmarshal(raw, &data); err == nil {
			p.Data = &data
		}
	}
	return p
}

// IsEmpty reports whether the payload carries no bytes
func (p Payload) IsEmpty() bool {
	return len(p.Raw) == 0
}

// String returns the payload as text
func (p Payload) String() string {
	if p.IsEmpty() {
		return "<empty>"
	}
	return string(p.Raw)
}

// PayloadStruct is the JSON document carried by most Tuya commands
type PayloadStruct struct {
	DevID string         `json:"devId,omitempty"`
	GwID  string         `json:"gwId,omitempty"`
	UID   string         `json:"uid,omitempty"`
	T     Timestamp      `json:"t,omitempty"`
	DpID  []int          `json:"dpId,omitempty"`
	DPS   map[string]any `json:"dps,omitempty"`
}

// Timestamp is a unix timestamp in seconds. Devices send it either as a JSON
// number or as a quoted string; it is always written as a string.
type Timestamp int64

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(t), 10))
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*t = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*t = Timestamp(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(data), err)
	}
	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", string(data), err)
	}
	*t = Timestamp(v)
	return nil
}

// Time converts the timestamp to a time.Time
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// BuildPayload builds the JSON payload used for control and query commands.
// devID is used for devId, gwId and uid, matching what the Tuya apps send.
// dps may be nil for queries, in which case the dps key is omitted.
func BuildPayload(devID string, dps map[string]any, t time.Time) ([]byte, error) {
	payload := PayloadStruct{
		DevID: devID,
		GwID:  devID,
		UID:   devID,
		T:     Timestamp(t.Unix()),
		DPS:   dps,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
