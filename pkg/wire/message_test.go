package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessage_PositionOmission(t *testing.T) {
	tests := []struct {
		name     string
		msg      *Message
		wantPos  bool
		wantZero bool
	}{
		{"NoPosition", NewListen("chain.1", "newHeads"), false, false},
		{"ZeroPosition", NewListen("chain.1", "newHeads").WithPosition(0), true, true},
		{"NonZeroPosition", NewListen("chain.1", "newHeads").WithPosition(5), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}

			hasPos := strings.Contains(string(data), `"position"`)
			if hasPos != tt.wantPos {
				t.Errorf("position present = %v, want %v (%s)", hasPos, tt.wantPos, data)
			}

			// 位置0必须编码为显式的0,不能被omitempty吞掉
			if tt.wantZero && !strings.Contains(string(data), `"position":0`) {
				t.Errorf("zero position not encoded explicitly: %s", data)
			}
		})
	}
}

func TestMessage_Builders(t *testing.T) {
	msg := NewListen("chain.1", "newHeads").
		WithChain("wes-mainnet-1").
		WithPosition(42).
		WithFilters(map[string]interface{}{"address": "0xabc"})

	if msg.Type != TypeListen {
		t.Errorf("Type = %q, want %q", msg.Type, TypeListen)
	}
	if msg.ID != "chain.1" || msg.Topic != "newHeads" || msg.ChainID != "wes-mainnet-1" {
		t.Errorf("unexpected identity fields: %+v", msg)
	}
	if msg.Position == nil || *msg.Position != 42 {
		t.Errorf("Position = %v, want 42", msg.Position)
	}
	if msg.Filters["address"] != "0xabc" {
		t.Errorf("Filters = %v", msg.Filters)
	}
}

func TestMessage_ShallowCopyOverride(t *testing.T) {
	// 重启帧是注册模板的值拷贝加位置覆盖,模板自身不能被改动
	template := *NewListen("chain.1", "newHeads").WithPosition(0)

	restart := template
	restart.Position = Position(9)

	if template.Position == nil || *template.Position != 0 {
		t.Errorf("template mutated: %v", template.Position)
	}
	if restart.Position == nil || *restart.Position != 9 {
		t.Errorf("restart position = %v, want 9", restart.Position)
	}
}

func TestEvent_Decode(t *testing.T) {
	raw := `{"id":"chain.1","type":"data","events":[{"position":5,"kind":"newHead","height":100,"hash":"0xdeadbeef","removed":false}]}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if msg.ID != "chain.1" || msg.Type != TypeData {
		t.Errorf("header = %q/%q", msg.ID, msg.Type)
	}
	if len(msg.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(msg.Events))
	}
	ev := msg.Events[0]
	if ev.Position != 5 || ev.Kind != "newHead" || ev.Height != 100 {
		t.Errorf("event = %+v", ev)
	}
}
