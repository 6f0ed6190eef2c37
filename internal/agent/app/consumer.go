package app

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"dhcptap/internal/agent/dhcpmatch"
	"dhcptap/internal/agent/metrics"
	"dhcptap/internal/agent/queue"
	"dhcptap/pkg/record"
)

const cleanupInterval = 2 * time.Second

type consumer struct {
	q       *queue.Queue
	tracker *dhcpmatch.Tracker
	up      Uploader
	ifnames map[uint32]string
	now     func() time.Time
}

func dhcpTracker(cfg Config) *dhcpmatch.Tracker {
	return dhcpmatch.NewTracker(cfg.Dedup.Window)
}

func newConsumer(q *queue.Queue, tracker *dhcpmatch.Tracker, up Uploader) *consumer {
	return &consumer{
		q:       q,
		tracker: tracker,
		up:      up,
		ifnames: make(map[uint32]string),
		now:     time.Now,
	}
}

// run 读到队列关闭且读空为止。
func (c *consumer) run(ctx context.Context) error {
	var raw queue.Record
	lastCleanup := c.now()
	for {
		err := c.q.ReadInto(ctx, &raw)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		c.handle(ctx, raw.RawSample)

		if now := c.now(); now.Sub(lastCleanup) >= cleanupInterval {
			c.tracker.Cleanup(now)
			lastCleanup = now
		}
	}
}

func (c *consumer) handle(ctx context.Context, raw []byte) {
	rec, err := record.Decode(raw)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		logrus.WithError(err).Debug("记录解码失败")
		return
	}

	ev := dhcpmatch.Summarize(rec, c.ifname(rec.IfIndex), c.now())
	metrics.EventsTotal.WithLabelValues(strconv.Itoa(ev.Family), ev.MsgType).Inc()
	if !c.tracker.Observe(&ev) {
		metrics.DuplicatesTotal.Inc()
		return
	}

	logrus.WithFields(logrus.Fields{
		"interface": ev.Interface,
		"src_mac":   ev.SrcMAC,
		"src_ip":    ev.SrcIP,
		"msg_type":  ev.MsgType,
		"xid":       ev.Xid,
		"hostname":  ev.Hostname,
	}).Info("dhcp")

	if c.up == nil {
		return
	}
	if err := c.up.Upload(ctx, &ev); err != nil {
		metrics.UploadErrorsTotal.Inc()
		logrus.WithError(err).Warn("上报失败（忽略继续抓包）")
	}
}

func (c *consumer) ifname(idx uint32) string {
	if name, ok := c.ifnames[idx]; ok {
		return name
	}
	name := strconv.FormatUint(uint64(idx), 10)
	if ifi, err := net.InterfaceByIndex(int(idx)); err == nil {
		name = ifi.Name
	}
	c.ifnames[idx] = name
	return name
}
