package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dhcptap/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "events.sqlite"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second) // SQLite precision

	discover := &model.DHCPEvent{
		Timestamp:    now,
		Interface:    "eth0",
		IfIndex:      2,
		Family:       4,
		SrcMAC:       "52:54:00:12:34:56",
		SrcIP:        "0.0.0.0",
		SrcPort:      68,
		MsgType:      "discover",
		Xid:          0xdeadbeef,
		ClientHWAddr: "52:54:00:12:34:56",
		Hostname:     "node01",
		RequestedIP:  "10.0.0.99",
		PayloadSize:  3,
		Payload:      []byte{1, 2, 3},
	}
	solicit := &model.DHCPEvent{
		Timestamp:    now.Add(time.Second),
		Interface:    "eth0",
		IfIndex:      2,
		Family:       6,
		SrcMAC:       "52:54:00:aa:bb:cc",
		SrcIP:        "fe80::5054:ff:feaa:bbcc",
		SrcPort:      546,
		MsgType:      "solicit",
		Xid:          0x123456,
		ClientHWAddr: "52:54:00:aa:bb:cc",
	}

	for _, ev := range []*model.DHCPEvent{discover, solicit} {
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	events, err := s.QueryByIP(ctx, "10.0.0.99", 10)
	if err != nil {
		t.Fatalf("QueryByIP failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Xid != 0xdeadbeef || got.MsgType != "discover" || got.Hostname != "node01" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.IfIndex != 2 || got.SrcPort != 68 || got.Family != 4 {
		t.Errorf("unexpected numeric fields: %+v", got)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v; want %v", got.Timestamp, now)
	}
	if string(got.Payload) != "\x01\x02\x03" {
		t.Errorf("payload = %x", got.Payload)
	}

	events, err = s.QueryByMAC(ctx, "52:54:00:aa:bb:cc", 10)
	if err != nil {
		t.Fatalf("QueryByMAC failed: %v", err)
	}
	if len(events) != 1 || events[0].MsgType != "solicit" || events[0].Xid != 0x123456 {
		t.Errorf("QueryByMAC = %+v", events)
	}

	events, err = s.QueryByMAC(ctx, "00:00:00:00:00:01", 10)
	if err != nil {
		t.Fatalf("QueryByMAC miss failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected 0 events, got %d", len(events))
	}
}

func TestStore_QueryOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		ev := &model.DHCPEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Family:    4,
			SrcMAC:    "52:54:00:12:34:56",
			SrcIP:     "10.0.0.5",
			SrcPort:   68,
			MsgType:   "request",
			Xid:       uint32(i),
		}
		if err := s.Insert(ctx, ev); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	events, err := s.QueryByIP(ctx, "10.0.0.5", 3)
	if err != nil {
		t.Fatalf("QueryByIP failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if want := uint32(4 - i); ev.Xid != want {
			t.Errorf("events[%d].Xid = %d; want %d", i, ev.Xid, want)
		}
	}
}

func TestStore_InsertNil(t *testing.T) {
	s := newTestStore(t)
	if err := s.Insert(context.Background(), nil); err == nil {
		t.Error("Insert(nil) should fail")
	}
}
