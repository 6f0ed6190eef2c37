package dhcpmatch

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"dhcptap/pkg/model"
)

// size 和 digest 只对无法解析的 payload 填写，否则不同的畸形报文会被当成同一事件。
type eventKey struct {
	mac     string
	xid     uint32
	msgType string
	size    int
	digest  uint64
}

func keyOf(ev *model.DHCPEvent) eventKey {
	key := eventKey{mac: ev.SrcMAC, xid: ev.Xid, msgType: ev.MsgType}
	if ev.MsgType == model.MsgTypeUnknown {
		key.size = ev.PayloadSize
		key.digest = xxhash.Sum64(ev.Payload)
	}
	return key
}

// Tracker 抑制客户端重传：同一 (MAC, xid, msg_type) 在窗口内只上报一次。
type Tracker struct {
	mu     sync.Mutex
	seen   map[eventKey]time.Time
	window time.Duration
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Tracker{
		seen:   make(map[eventKey]time.Time, 1024),
		window: window,
	}
}

// Observe 返回 true 表示该事件需要上报。
func (t *Tracker) Observe(ev *model.DHCPEvent) bool {
	key := keyOf(ev)

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.seen[key]; ok && ev.Timestamp.Sub(last) < t.window {
		return false
	}
	t.seen[key] = ev.Timestamp
	return true
}

func (t *Tracker) Cleanup(now time.Time) {
	deadline := now.Add(-t.window)
	t.mu.Lock()
	for k, v := range t.seen {
		if v.Before(deadline) {
			delete(t.seen, k)
		}
	}
	t.mu.Unlock()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
