package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// uiEntry is one element of ui_messages.json: a UI-event stream where the
// "say" discriminator names the event flavor and usage reports carry a JSON
// payload in the text field.
type uiEntry struct {
	Type string `json:"type"`
	Say  string `json:"say"`
	Ask  string `json:"ask"`
	Ts   int64  `json:"ts"` // epoch milliseconds
	Text string `json:"text"`
}

// uiUsagePayload is the JSON carried by an api_req_started entry's text.
type uiUsagePayload struct {
	Cost            *float64 `json:"cost"`
	TokensIn        *int64   `json:"tokensIn"`
	TokensOut       *int64   `json:"tokensOut"`
	TokensReasoning *int64   `json:"tokensReasoning"`
	Model           string   `json:"model"`
	Mode            string   `json:"mode"`
}

// uiToolPayload is the JSON carried by an ask=="tool" entry's text. The
// newTask pseudo-tool spawns a child session in the named mode.
type uiToolPayload struct {
	Tool string `json:"tool"`
	Mode string `json:"mode"`
}

// uiMCPPayload is the JSON carried by an ask=="use_mcp_server" entry's text.
type uiMCPPayload struct {
	ServerName string `json:"serverName"`
	ToolName   string `json:"toolName"`
}

// apiEntry is one element of api_conversation_history.json: a raw
// role/content turn whose content blocks are text or tool_use.
type apiEntry struct {
	Role    string          `json:"role"`
	Ts      int64           `json:"ts"`
	Content []apiContentBlk `json:"content"`
}

type apiContentBlk struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func msToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ParseUIMessages classifies a ui_messages.json document into records,
// preserving file order.
func ParseUIMessages(data []byte) ([]Record, error) {
	var entries []uiEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ui_messages: %w", err)
	}
	var out []Record
	for _, e := range entries {
		out = append(out, classifyUIEntry(e))
	}
	return out, nil
}

func classifyUIEntry(e uiEntry) Record {
	ts := msToTime(e.Ts)
	switch {
	case e.Type == "say" && e.Say == "api_req_started":
		var payload uiUsagePayload
		if err := json.Unmarshal([]byte(e.Text), &payload); err != nil {
			return Record{Kind: KindUnknown, Timestamp: ts}
		}
		return Record{
			Kind:            KindUsage,
			Timestamp:       ts,
			Cost:            payload.Cost,
			TokensIn:        payload.TokensIn,
			TokensOut:       payload.TokensOut,
			TokensReasoning: payload.TokensReasoning,
			Model:           payload.Model,
			Mode:            payload.Mode,
		}
	case e.Type == "say" && e.Say == "completion_result":
		return Record{Kind: KindCompletion, Timestamp: ts}
	case e.Type == "say" && e.Say == "subtask_started":
		return Record{Kind: KindChildSpawn, Timestamp: ts, ChildID: e.Text}
	case e.Type == "say" && e.Say == "subtask_result":
		return Record{Kind: KindChildComplete, Timestamp: ts}
	case e.Type == "say" && e.Say == "text":
		return Record{Kind: KindText, Timestamp: ts, Role: "assistant", Text: e.Text}
	case e.Type == "ask" && e.Ask == "tool":
		var payload uiToolPayload
		if err := json.Unmarshal([]byte(e.Text), &payload); err != nil || payload.Tool == "" {
			return Record{Kind: KindUnknown, Timestamp: ts}
		}
		if payload.Tool == "newTask" {
			if payload.Mode == "" {
				return Record{Kind: KindUnknown, Timestamp: ts}
			}
			return Record{Kind: KindChildSpawn, Timestamp: ts, ChildID: payload.Mode}
		}
		return Record{Kind: KindToolCall, Timestamp: ts, ToolName: payload.Tool}
	case e.Type == "ask" && e.Ask == "command":
		return Record{Kind: KindCommandExec, Timestamp: ts, Text: e.Text}
	case e.Type == "ask" && e.Ask == "use_mcp_server":
		var payload uiMCPPayload
		if err := json.Unmarshal([]byte(e.Text), &payload); err != nil ||
			payload.ServerName == "" || payload.ToolName == "" {
			return Record{Kind: KindUnknown, Timestamp: ts}
		}
		return Record{Kind: KindExternalCall, Timestamp: ts, ToolName: payload.ServerName + ":" + payload.ToolName}
	case e.Type == "ask":
		return Record{Kind: KindText, Timestamp: ts, Role: "user", Text: e.Text}
	default:
		return Record{Kind: KindUnknown, Timestamp: ts}
	}
}

// ParseAPIHistory classifies an api_conversation_history.json document into
// records, preserving file order. A turn with both text and tool_use blocks
// yields one record per block.
func ParseAPIHistory(data []byte) ([]Record, error) {
	var entries []apiEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse api_conversation_history: %w", err)
	}
	var out []Record
	for _, e := range entries {
		ts := msToTime(e.Ts)
		role := e.Role
		if role != "user" && role != "assistant" {
			out = append(out, Record{Kind: KindUnknown, Timestamp: ts})
			continue
		}
		for _, blk := range e.Content {
			switch blk.Type {
			case "text":
				out = append(out, Record{Kind: KindText, Timestamp: ts, Role: role, Text: blk.Text})
			case "tool_use":
				out = append(out, Record{
					Kind:      KindToolCall,
					Timestamp: ts,
					ToolName:  blk.Name,
					Args:      string(blk.Input),
					Completed: true,
				})
			default:
				out = append(out, Record{Kind: KindUnknown, Timestamp: ts})
			}
		}
	}
	return out, nil
}
