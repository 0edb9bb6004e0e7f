package ws

import (
	"encoding/json"
	"fmt"
)

// ClientInfo is reported by the device after connecting
type ClientInfo struct {
	FirmwareVersion string `json:"firmware_version"`
	FirmwareType    string `json:"firmware_type"`
	ProtocolVersion int    `json:"protocol_version"`
	MacAddress      string `json:"mac_address"`
}

// Inbound is the decoded form of a client text frame
type Inbound interface{ isInbound() }

// QueuedMsg acknowledges that the device buffered frame seq
type QueuedMsg struct{ Seq int }

// DisplayingMsg acknowledges that the device put frame seq on screen
type DisplayingMsg struct{ Seq int }

// ClientInfoMsg carries firmware and protocol details
type ClientInfoMsg struct{ Info ClientInfo }

func (QueuedMsg) isInbound()     {}
func (DisplayingMsg) isInbound() {}
func (ClientInfoMsg) isInbound() {}

// rawInbound covers every known client frame shape. The discriminant is
// which field is present: {"queued":n}, {"displaying":n}, the alternate
// {"status":"displaying","counter":n}, or {"client_info":{...}}.
type rawInbound struct {
	Queued     *int        `json:"queued"`
	Displaying *int        `json:"displaying"`
	Status     string      `json:"status"`
	Counter    *int        `json:"counter"`
	ClientInfo *ClientInfo `json:"client_info"`
}

// ParseInbound decodes one client text frame into its tagged form
func ParseInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed client frame: %w", err)
	}

	switch {
	case raw.Queued != nil:
		return QueuedMsg{Seq: *raw.Queued}, nil
	case raw.Displaying != nil:
		return DisplayingMsg{Seq: *raw.Displaying}, nil
	case raw.Status == "displaying" && raw.Counter != nil:
		return DisplayingMsg{Seq: *raw.Counter}, nil
	case raw.ClientInfo != nil:
		return ClientInfoMsg{Info: *raw.ClientInfo}, nil
	}
	return nil, fmt.Errorf("unrecognized client frame: %s", data)
}

// Server to client messages

type dwellMsg struct {
	DwellSecs int `json:"dwell_secs"`
}

type brightnessMsg struct {
	Brightness int `json:"brightness"`
}

type immediateMsg struct {
	Immediate bool `json:"immediate"`
}

type statusMsg struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
