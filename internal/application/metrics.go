package application

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	transactionsBuilt *prometheus.CounterVec
	changes           *prometheus.CounterVec
	rowIssues         *prometheus.CounterVec
	commits           *prometheus.CounterVec
	commitDuration    *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		transactionsBuilt: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler_import",
			Name:      "transactions_built_total",
			Help:      "Total number of import transactions built.",
		}, []string{"result"}),
		changes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler_import",
			Name:      "changes_total",
			Help:      "Total number of changes proposed by import transactions.",
		}, []string{"collection", "action"}),
		rowIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler_import",
			Name:      "row_issues_total",
			Help:      "Total number of input rows reported as issues.",
		}, []string{"kind"}),
		commits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler_import",
			Name:      "commits_total",
			Help:      "Total number of commit attempts by outcome.",
		}, []string{"result"}),
		commitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler_import",
			Name:      "commit_duration_seconds",
			Help:      "Latency distribution for transaction commits.",
			Buckets: []float64{
				0.005, 0.01, 0.05,
				0.1, 0.5, 1,
				2, 5, 10, 30,
			},
		}, []string{"result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func (m *metrics) observeTransaction(tx *Transaction) {
	m.transactionsBuilt.WithLabelValues("ok").Inc()
	for _, change := range tx.Changes {
		m.changes.WithLabelValues(change.Collection, string(change.Action)).Inc()
	}
	for _, issue := range tx.Issues {
		m.rowIssues.WithLabelValues(issue.Kind).Inc()
	}
}

func outcome(err error) string {
	if err != nil {
		return ErrorKind(err)
	}
	return "ok"
}
