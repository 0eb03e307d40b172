package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ip4rt_frames_processed_total", Help: "Frames handed to ProcessFrame, by outcome.",
	}, []string{"result"})

	icmpSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ip4rt_icmp_sent_total", Help: "ICMP messages emitted, by type.",
	}, []string{"type"})

	framesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ip4rt_frames_forwarded_total", Help: "IPv4 datagrams forwarded toward a resolved next hop.",
	})

	arpRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ip4rt_arp_requests_sent_total", Help: "ARP requests emitted, including retries.",
	})

	arpPendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ip4rt_arp_pending_depth", Help: "Pending-ARP entries awaiting resolution after the last sweep.",
	})

	arpResolutionsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ip4rt_arp_resolutions_exhausted_total", Help: "Pending-ARP entries dropped after exceeding MaxARPRetries.",
	})

	transportSendErrs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ip4rt_transport_send_errors_total", Help: "Transport.Send failures, by interface name.",
	}, []string{"iface"})
)

const (
	resultLabelOK          = "ok"
	resultLabelRecoverable = "recoverable"
	resultLabelFatal       = "fatal"
)

func resultLabel(r Result) string {
	switch r {
	case ResultOK:
		return resultLabelOK
	case ResultRecoverable:
		return resultLabelRecoverable
	default:
		return resultLabelFatal
	}
}
