package reporters

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/route"
)

// PrometheusReporter counts handled errors by class, error type and status.
//
// Attributes: namespace (default "stderr").
type PrometheusReporter struct {
	handled *prometheus.CounterVec
}

// NewPrometheusReporter registers the handled-errors counter with reg. When
// an identical counter is already registered it is shared.
func NewPrometheusReporter(reg prometheus.Registerer, attrs configtree.Attributes) (*PrometheusReporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	namespace := attrs.Get("namespace")
	if namespace == "" {
		namespace = "stderr"
	}

	handled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_handled_total",
			Help:      "Total number of errors handled, by class, error type and HTTP status",
		},
		[]string{"class", "error_type", "status"},
	)

	if err := reg.Register(handled); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		handled = existing
	}

	return &PrometheusReporter{handled: handled}, nil
}

// Report increments the counter for req.
func (r *PrometheusReporter) Report(_ context.Context, req *mvc.Request, errorType route.ErrorType) error {
	r.handled.WithLabelValues(
		req.ClassName,
		errorType.String(),
		strconv.Itoa(req.Route.HTTPStatus),
	).Inc()
	return nil
}

// Counter exposes the underlying vector, mainly for tests.
func (r *PrometheusReporter) Counter() *prometheus.CounterVec {
	return r.handled
}
