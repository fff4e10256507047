package rtps

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts protocol activity for one participant. Registration is
// optional: with a nil Registerer the counters still work, they just are not
// exported anywhere.
type Metrics struct {
	DatagramsRx prometheus.Counter
	DatagramsTx prometheus.Counter
	SubmsgRx    *prometheus.CounterVec
	DecodeErrs  prometheus.Counter
	Resends     prometheus.Counter
	GapsTx      prometheus.Counter
	AckNacksTx  prometheus.Counter
	Discovered  prometheus.Counter
	Lost        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, prefix GUIDPrefix) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"participant": prefix.String()}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "rtps",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &Metrics{
		DatagramsRx: counter("datagrams_rx_total", "Datagrams received."),
		DatagramsTx: counter("datagrams_tx_total", "Datagrams sent."),
		SubmsgRx: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "rtps",
			Name:        "submessages_rx_total",
			Help:        "Submessages received by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		DecodeErrs: counter("decode_errors_total", "Messages that failed to decode, fully or in part."),
		Resends:    counter("data_resends_total", "DATA submessages resent in response to ACKNACK."),
		GapsTx:     counter("gaps_tx_total", "GAP submessages sent for evicted sequence numbers."),
		AckNacksTx: counter("acknacks_tx_total", "ACKNACK submessages sent."),
		Discovered: counter("participants_discovered_total", "Remote participants discovered."),
		Lost:       counter("participants_lost_total", "Remote participants lost to lease expiry."),
	}
}
