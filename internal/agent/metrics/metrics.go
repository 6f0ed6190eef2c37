// Package metrics 定义 agent 的 Prometheus 指标，并提供 /metrics HTTP 服务。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal 按判决统计分类器处理的帧
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dhcptap_frames_total",
			Help: "Frames seen by the classifier, by verdict",
		},
		[]string{"interface", "verdict"},
	)

	QueueReserveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dhcptap_queue_reserve_failures_total",
			Help: "Reservations refused because the capture queue was full or closed",
		},
	)

	QueueBytesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dhcptap_queue_bytes_in_use",
			Help: "Bytes reserved or committed but not yet consumed",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dhcptap_events_total",
			Help: "Captured DHCP messages, by family and message type",
		},
		[]string{"family", "msg_type"},
	)

	DuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dhcptap_duplicates_suppressed_total",
			Help: "Client retransmissions suppressed inside the dedup window",
		},
	)

	UploadErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dhcptap_upload_errors_total",
			Help: "Failed uploads to the server",
		},
	)

	DecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dhcptap_decode_errors_total",
			Help: "Queue records that failed to decode",
		},
	)

	// SourceDropsTotal 是内核侧（AF_PACKET ring / perf ring）丢掉的帧
	SourceDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dhcptap_source_drops_total",
			Help: "Frames dropped by the kernel before reaching the classifier",
		},
		[]string{"source"},
	)
)
