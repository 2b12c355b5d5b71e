package protocol

import (
	"encoding/json"
	"fmt"
)

// Packets carry JSON-encoded payloads, mirroring the object model's own
// "opaque JSON-serializable tree" treatment (spec.md §1) — the wire
// format only fixes framing (internal/wire), not the payload shape.

type wireReportState struct {
	BusyChannels uint32 `json:"busyChannels"`
}

type wireObjectModel struct {
	Module int             `json:"module"`
	Data   json.RawMessage `json:"data"`
}

type wireCodeReply struct {
	Flags ReplyFlags `json:"flags"`
	Text  string     `json:"text"`
}

type wireExecuteMacro struct {
	Channel       int    `json:"channel"`
	Filename      string `json:"filename"`
	ReportMissing bool   `json:"reportMissing"`
}

type wireAbortFile struct {
	Channel int `json:"channel"`
}

type wireStackEvent struct {
	Channel  int        `json:"channel"`
	Depth    int        `json:"depth"`
	Flags    StackFlags `json:"flags"`
	Feedrate float64    `json:"feedrate"`
}

type wirePrintPaused struct {
	FilePosition int64 `json:"filePosition"`
	Reason       int   `json:"reason"`
}

type wireLocked struct {
	Channel int  `json:"channel"`
	Granted bool `json:"granted"`
}

type wireResend struct {
	ID uint16 `json:"id"`
}

type wireVariableResult struct {
	Text string `json:"text"`
	Err  string `json:"err"`
}

// DecodeFirmwareRequest decodes a packet's payload according to its
// request code (spec.md §4.2).
func DecodeFirmwareRequest(code uint16, payload []byte) (FirmwareRequest, error) {
	req := FirmwareRequest{Code: code}

	switch code {
	case ReqResendPacket:
		var w wireResend
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode ResendPacket: %w", err)
		}
		req.ResendID = w.ID

	case ReqReportState:
		var w wireReportState
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode ReportState: %w", err)
		}
		req.BusyChannels = w.BusyChannels

	case ReqObjectModel:
		var w wireObjectModel
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode ObjectModel: %w", err)
		}
		req.ModuleID = w.Module
		req.ModelJSON = []byte(w.Data)

	case ReqCodeReply:
		var w wireCodeReply
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode CodeReply: %w", err)
		}
		req.ReplyFlags = w.Flags
		req.ReplyText = w.Text

	case ReqExecuteMacro:
		var w wireExecuteMacro
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode ExecuteMacro: %w", err)
		}
		req.Channel = w.Channel
		req.Filename = w.Filename
		req.ReportMissing = w.ReportMissing

	case ReqAbortFile:
		var w wireAbortFile
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode AbortFile: %w", err)
		}
		req.Channel = w.Channel

	case ReqStackEvent:
		var w wireStackEvent
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode StackEvent: %w", err)
		}
		req.Channel = w.Channel
		req.StackDepth = w.Depth
		req.Flags = w.Flags
		req.Feedrate = w.Feedrate

	case ReqPrintPaused:
		var w wirePrintPaused
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode PrintPaused: %w", err)
		}
		req.FilePosition = w.FilePosition
		req.PauseReason = w.Reason

	case ReqHeightMap:
		req.HeightMapJSON = append([]byte(nil), payload...)

	case ReqLocked:
		var w wireLocked
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode Locked: %w", err)
		}
		req.Channel = w.Channel
		req.LockGranted = w.Granted

	case ReqVariableResult, ReqEvaluationResult:
		var w wireVariableResult
		if err := json.Unmarshal(payload, &w); err != nil {
			return req, fmt.Errorf("protocol: decode variable/evaluation result: %w", err)
		}
		req.ResultText = w.Text
		req.ResultErr = w.Err

	default:
		return req, fmt.Errorf("protocol: unknown firmware request code %d", code)
	}

	return req, nil
}

// EncodeHostRequest encodes a HostRequest's payload according to its
// request code (spec.md §4.2 "Host-originated requests").
func EncodeHostRequest(req HostRequest) ([]byte, error) {
	switch req.Code {
	case ReqGetState:
		return []byte("{}"), nil

	case ReqGetObjectModel:
		return json.Marshal(struct {
			Module int `json:"module"`
		}{req.ModuleID})

	case ReqCode:
		return json.Marshal(struct {
			Code []byte `json:"code"`
		}{req.CodeBytes})

	case ReqMacroCompleted:
		return json.Marshal(struct {
			Channel int  `json:"channel"`
			Error   bool `json:"error"`
		}{req.Channel, req.Error})

	case ReqSetVariable:
		return json.Marshal(struct {
			Name       string `json:"name"`
			Expression string `json:"expression"`
		}{req.VariableName, req.Expression})

	case ReqEvaluateExpression:
		return json.Marshal(struct {
			Channel    int    `json:"channel"`
			Expression string `json:"expression"`
		}{req.Channel, req.Expression})

	case ReqUpdateFirmware:
		return json.Marshal(struct {
			Chunk []byte `json:"chunk"`
		}{req.FirmwareChunk})

	default:
		return nil, fmt.Errorf("protocol: unknown host request code %d", req.Code)
	}
}
