package infra

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"token_swap/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape: %v", err)
	}
	return string(body)
}

func TestMetrics_ObserveExchange(t *testing.T) {
	m := NewMetrics()

	m.ObserveExchange(500, 1000)
	m.ObserveExchange(10, 3)

	body := scrape(t, m)
	for _, want := range []string{
		"swap_settlement_exchanges_total 2",
		"swap_settlement_source_volume_total 510",
		"swap_settlement_destination_volume_total 1003",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest("exchange", "ok", 2*time.Millisecond)
	m.ObserveRequest("exchange", "ok", 3*time.Millisecond)
	m.ObserveRequest("exchange", "insufficient_reserve", time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `swap_settlement_requests_total{op="exchange",outcome="ok"} 2`) {
		t.Error("expected two ok exchange requests")
	}
	if !strings.Contains(body, `swap_settlement_requests_total{op="exchange",outcome="insufficient_reserve"} 1`) {
		t.Error("expected one rejected exchange request")
	}
	if !strings.Contains(body, `swap_settlement_request_duration_seconds_count{op="exchange"} 3`) {
		t.Error("expected three latency observations")
	}
}

func TestMetrics_SetPoolBalances(t *testing.T) {
	m := NewMetrics()

	m.SetPoolBalances(domain.PoolBalances{SourceHeld: 7, DestinationHeld: 90})
	m.SetPoolBalances(domain.PoolBalances{SourceHeld: 8, DestinationHeld: 89})

	body := scrape(t, m)
	if !strings.Contains(body, `swap_custody_pool_held{pool="source"} 8`) {
		t.Error("source gauge not updated")
	}
	if !strings.Contains(body, `swap_custody_pool_held{pool="destination"} 89`) {
		t.Error("destination gauge not updated")
	}
}

func TestMetrics_PrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration
	a := NewMetrics()
	b := NewMetrics()
	a.ObserveExchange(1, 1)

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "swap_settlement_exchanges_total" {
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 0 {
				t.Errorf("second registry saw %v exchanges", got)
			}
		}
	}
}
