package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderdesk"

var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Back-office operations by outcome code.",
	}, []string{"operation", "code"})

	TrackingUnused = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracking_unused",
		Help:      "Unused tracking numbers per tenant and courier.",
	}, []string{"tenant_id", "courier_id"})

	CarrierChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "carrier_checks_total",
		Help:      "Carrier status polls by carrier and result.",
	}, []string{"carrier", "result"})

	DeliveryReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_reports_total",
		Help:      "Consumed delivery reports by result.",
	}, []string{"result"})
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		MustRegister(prometheus.DefaultRegisterer)
	})
}

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(OperationsTotal, TrackingUnused, CarrierChecksTotal, DeliveryReportsTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveOperation(operation, code string) {
	OperationsTotal.WithLabelValues(operation, code).Inc()
}

func ObserveCarrierCheck(carrierCode, result string) {
	CarrierChecksTotal.WithLabelValues(carrierCode, result).Inc()
}

func ObserveDeliveryReport(result string) {
	DeliveryReportsTotal.WithLabelValues(result).Inc()
}

func SetTrackingUnused(tenantID, courierID, unused int64) {
	TrackingUnused.WithLabelValues(strconv.FormatInt(tenantID, 10), strconv.FormatInt(courierID, 10)).Set(float64(unused))
}
