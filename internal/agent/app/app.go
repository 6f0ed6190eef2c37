package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dhcptap/internal/agent/capture"
	"dhcptap/internal/agent/classifier"
	"dhcptap/internal/agent/filter"
	"dhcptap/internal/agent/metrics"
	"dhcptap/internal/agent/queue"
	"dhcptap/internal/agent/report"
	"dhcptap/internal/agent/xdp"
	"dhcptap/pkg/model"
)

const statsInterval = 5 * time.Second

// frameSource 是分类器的输入：AF_PACKET socket 或 XDP perf reader。
type frameSource interface {
	ReadFrame(ctx context.Context) ([]byte, uint32, error)
	Drops() uint64
	Close()
}

type Uploader interface {
	Upload(ctx context.Context, ev *model.DHCPEvent) error
}

func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	q, err := queue.New(cfg.Queue.SizeBytes)
	if err != nil {
		return err
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	var up Uploader
	if cfg.Report.Server != "" {
		rep := report.NewClient(cfg.Report.Server, cfg.Report.Timeout)
		logrus.WithField("url", rep.URL()).Info("上报已开启")
		up = rep
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := ms.Start(ctx); err != nil {
			return err
		}
		defer ms.Stop(context.Background())
	}

	logrus.WithFields(logrus.Fields{
		"interface":  cfg.Interface,
		"mode":       cfg.Mode,
		"queue_size": cfg.Queue.SizeBytes,
	}).Info("开始抓取 DHCP 报文")

	return runPipeline(ctx, cfg, src, q, up)
}

// runPipeline 在当前 goroutine 上跑生产者，消费者和统计各占一个 goroutine。
// ctx 结束后先停生产者，再关闭队列，等消费者把剩余记录处理完。
func runPipeline(ctx context.Context, cfg Config, src frameSource, q *queue.Queue, up Uploader) error {
	c := newConsumer(q, dhcpTracker(cfg), up)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// 队列关闭后消费者仍要读空，所以不跟随 ctx 取消
		if err := c.run(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).Error("消费者退出")
		}
	}()

	statsCtx, stopStats := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		pollStats(statsCtx, src, q)
	}()

	err := produce(ctx, cfg.Interface, src, q)
	stopStats()
	q.Close()
	wg.Wait()
	return err
}

func produce(ctx context.Context, ifname string, src frameSource, q classifier.Reserver) error {
	captured := metrics.FramesTotal.WithLabelValues(ifname, classifier.CaptureAndDrop.String())
	passed := metrics.FramesTotal.WithLabelValues(ifname, classifier.Continue.String())

	for {
		frame, ifindex, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if classifier.Classify(frame, ifindex, q) == classifier.CaptureAndDrop {
			captured.Inc()
		} else {
			passed.Inc()
		}
	}
}

func pollStats(ctx context.Context, src frameSource, q *queue.Queue) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var prevFailed, prevDrops uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := q.Stats()
		metrics.QueueBytesInUse.Set(float64(st.InUse))
		if st.Failed > prevFailed {
			metrics.QueueReserveFailures.Add(float64(st.Failed - prevFailed))
			prevFailed = st.Failed
		}
		if d := src.Drops(); d > prevDrops {
			metrics.SourceDropsTotal.WithLabelValues(sourceName(src)).Add(float64(d - prevDrops))
			prevDrops = d
		}
	}
}

func openSource(cfg Config) (frameSource, error) {
	if cfg.Mode == ModeXDP {
		r, err := xdp.Load(xdp.Options{
			Interface: cfg.Interface,
			Generic:   cfg.XDP.Generic,
		})
		if err == nil {
			return xdpSource{r}, nil
		}
		logrus.WithError(err).Warn("XDP 初始化失败，回退到 AF_PACKET")
	}

	handle, err := capture.NewAFPacketHandle(cfg.Interface, 65535)
	if err != nil {
		return nil, err
	}
	// classic BPF 在内核态过滤，只把发往 DHCP 服务端端口的包送到用户态。
	rawIns, err := filter.DHCPServerBPF()
	if err != nil {
		handle.Close()
		return nil, err
	}
	if err := handle.SetBPF(rawIns); err != nil {
		handle.Close()
		return nil, fmt.Errorf("设置 BPF 失败：%w", err)
	}
	return afpacketSource{handle}, nil
}

type afpacketSource struct {
	h *capture.AFPacketHandle
}

func (s afpacketSource) ReadFrame(ctx context.Context) ([]byte, uint32, error) {
	return s.h.ReadFrame(ctx)
}

func (s afpacketSource) Drops() uint64 {
	st, err := s.h.Stats()
	if err != nil {
		return 0
	}
	return st.Drops
}

func (s afpacketSource) Close() { s.h.Close() }

type xdpSource struct {
	r *xdp.Reader
}

func (s xdpSource) ReadFrame(ctx context.Context) ([]byte, uint32, error) {
	frame, ifindex, err := s.r.ReadFrame(ctx)
	if errors.Is(err, xdp.ErrClosed) && ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}
	return frame, ifindex, err
}

func (s xdpSource) Drops() uint64 { return s.r.Lost() }

func (s xdpSource) Close() {
	if err := s.r.Close(); err != nil {
		logrus.WithError(err).Warn("关闭 XDP 失败")
	}
}

func sourceName(src frameSource) string {
	switch src.(type) {
	case xdpSource:
		return ModeXDP
	case afpacketSource:
		return ModeAFPacket
	default:
		return "other"
	}
}
