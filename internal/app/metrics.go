package app

import (
	"tush00nka/bbbab_teamchat/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// registerHubMetrics отдает счетчики хаба в prometheus без копирования
func registerHubMetrics(reg prometheus.Registerer, hub *ws.Hub) {
	m := hub.Metrics()
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "teamchat", Subsystem: "ws", Name: name, Help: help}
	}

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("connections", "Open websocket connections.")),
			func() float64 { return float64(m.Connections.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts("rooms", "Logical channels with a local room.")),
			func() float64 { return float64(hub.RoomCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("frames_sent_total", "Frames queued to clients.")),
			func() float64 { return float64(m.FramesSent.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("frames_received_total", "Frames read from clients.")),
			func() float64 { return float64(m.FramesReceived.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts(opts("errors_total", "Error frames sent to clients.")),
			func() float64 { return float64(m.Errors.Load()) }),
	)
}
