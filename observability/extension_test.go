package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/observability"
	"github.com/xraph/getanswer/query"
	"github.com/xraph/getanswer/store/memory"
)

func value(m any) float64 {
	return testutil.ToFloat64(m.(prometheus.Collector))
}

func TestMetricsExtensionRecordsQueries(t *testing.T) {
	reg := prometheus.NewRegistry()
	factory := observability.NewPrometheusFactory(reg)
	metrics := observability.NewMetricsExtension(factory)

	calls := 0
	answer := query.AnswererFunc(func(context.Context, string) (string, error) {
		calls++
		if calls == 2 {
			return "", errors.New("model overloaded")
		}
		return "4", nil
	})

	engine, err := getanswer.New(memory.New(),
		query.ExtractorFunc(func(context.Context, query.Image) (string, error) { return "2+2=?", nil }),
		answer,
		getanswer.WithPlugin(metrics),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		t.Fatal(err)
	}

	_, _ = engine.Pipeline().RunQuery(ctx, getanswer.Image{})
	_, _ = engine.Pipeline().RunQuery(ctx, getanswer.Image{})

	if got := value(factory.Counter("getanswer.query.completed")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := value(factory.Counter("getanswer.query.inference_failed")); got != 1 {
		t.Errorf("inference_failed = %v, want 1", got)
	}
	if got := value(factory.Counter("getanswer.credits.deducted")); got != 4 {
		t.Errorf("credits deducted = %v, want 4", got)
	}
	if got := value(factory.Counter("getanswer.credits.restored")); got != 2 {
		t.Errorf("credits restored = %v, want 2", got)
	}
	if got := value(factory.Gauge("getanswer.credits.balance")); got != 8 {
		t.Errorf("balance gauge = %v, want 8", got)
	}
	if got := value(factory.Counter("getanswer.history.appended")); got != 1 {
		t.Errorf("history appended = %v, want 1", got)
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg).Counter("getanswer.credits.added")
	b := observability.NewPrometheusFactory(reg).Counter("getanswer.credits.added")

	a.Inc()
	b.Add(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 1 || families[0].GetName() != "getanswer_credits_added_total" {
		t.Fatalf("gathered %d families", len(families))
	}
	if got := families[0].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("counter = %v, want 3", got)
	}
}
