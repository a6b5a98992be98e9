package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_RecordCountersAndHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegisterer(registry)

	m.RecordCheckout(ResultSuccess, 20*time.Millisecond)
	m.RecordCheckout(ResultRejected, time.Millisecond)
	m.RecordPayment("credit_card", "")
	m.RecordPayment("credit_card", "CARD_DECLINED")
	m.RecordRefund(ResultSuccess)
	m.RecordTransition("cancel")
	m.RecordStockAlert("low_stock", ResultSuccess)
	m.RecordCartCache("hit")

	if got := testutil.ToFloat64(m.checkouts.WithLabelValues(ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 successful checkout, got %v", got)
	}
	if got := testutil.ToFloat64(m.payments.WithLabelValues("credit_card", ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 successful payment, got %v", got)
	}
	if got := testutil.ToFloat64(m.payments.WithLabelValues("credit_card", "CARD_DECLINED")); got != 1 {
		t.Fatalf("expected 1 declined payment, got %v", got)
	}
	if got := testutil.ToFloat64(m.stockAlerts.WithLabelValues("low_stock", ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 stock alert, got %v", got)
	}

	var metric dto.Metric
	if err := m.checkoutDuration.Write(&metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("expected 2 checkout duration samples, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestMetrics_InFlightGauge(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.PaymentStarted()
	m.PaymentStarted()
	m.PaymentFinished()

	if got := testutil.ToFloat64(m.paymentsPending); got != 1 {
		t.Fatalf("expected 1 payment in flight, got %v", got)
	}

	m.SetBreakerState("gateway", 2)
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("gateway")); got != 2 {
		t.Fatalf("expected breaker state 2, got %v", got)
	}
}

func TestMetrics_ReRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewWithRegisterer(registry)
	second := NewWithRegisterer(registry)

	first.RecordRefund(ResultFailure)
	if got := testutil.ToFloat64(second.refunds.WithLabelValues(ResultFailure)); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordCheckout(ResultSuccess, time.Second)
	m.RecordPayment("paypal", "")
	m.ObserveGateway("paypal", time.Second)
	m.PaymentStarted()
	m.PaymentFinished()
	m.SetBreakerState("x", 1)
	m.RecordRefund(ResultSuccess)
	m.RecordTransition("ship")
	m.RecordStockAlert("out_of_stock", ResultFailure)
	m.RecordCartCache("miss")
}
