// Package metrics exposes Prometheus collectors for the provisioning and
// settlement paths, plus a standalone metrics HTTP listener.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvisionedIdentities counts identities created through provisioning.
	ProvisionedIdentities = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identities_provisioned_total",
		Help: "Number of identities created through provisioning.",
	})

	// SettlementsSucceeded counts payment vouchers driven to redeemed.
	SettlementsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voucher_settlements_succeeded_total",
		Help: "Number of payment vouchers settled successfully.",
	})

	// SettlementsFailed counts settlement executor failures. Vouchers stay
	// issued after these, so retries show up here again.
	SettlementsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voucher_settlements_failed_total",
		Help: "Number of settlement executor calls that failed.",
	})

	// CredentialVouchersRedeemed counts consumed credential-download vouchers.
	CredentialVouchersRedeemed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credential_vouchers_redeemed_total",
		Help: "Number of credential-download vouchers redeemed.",
	})
)

// MetricsServer serves the Prometheus registry on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and listen address.
func New(name, listenAddr string) (*MetricsServer, error) {
	// Metric namespaces cannot contain dashes.
	name = strings.ReplaceAll(name, "-", "_")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: name}),
		ProvisionedIdentities,
		SettlementsSucceeded,
		SettlementsFailed,
		CredentialVouchersRedeemed,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the metrics endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
