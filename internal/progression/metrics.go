package progression

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/logfields"
)

const metricNamespace = "mergeflow"

const (
	repositoryLabel = "repository"
	resultLabel     = "result"
	originLabel     = "origin"
)

const (
	edgesProcessedMetricName      = "edges_processed_total"
	mergeRequestsMetricName       = "merge_requests_total"
	additionalEdgesMetricName     = "additional_edges_total"
	mergeRequestRetriesMetricName = "merge_request_retries_total"
	reposInProgressMetricName     = "repositories_in_progress"
)

var metrics = newMetricCollector()

type metricCollector struct {
	edgesProcessed      *prometheus.CounterVec
	mergeRequests       *prometheus.CounterVec
	additionalEdges     *prometheus.CounterVec
	mergeRequestRetries prometheus.Counter
	reposInProgress     prometheus.Gauge
}

func newMetricCollector() *metricCollector {
	return &metricCollector{
		edgesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      edgesProcessedMetricName,
				Help:      "Processed flow edges per repository and result.",
			},
			[]string{repositoryLabel, resultLabel},
		),

		mergeRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergeRequestsMetricName,
				Help:      "Merge requests that were created or reused per repository.",
			},
			[]string{repositoryLabel, originLabel},
		),

		additionalEdges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      additionalEdgesMetricName,
				Help:      "Edges that the additional commit scan materialized per repository.",
			},
			[]string{repositoryLabel},
		),

		mergeRequestRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      mergeRequestRetriesMetricName,
				Help:      "Retried merge request operations.",
			},
		),

		reposInProgress: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      reposInProgressMetricName,
				Help:      "Repositories that are currently progressing through their flow.",
			},
		),
	}
}

func logGetMetricFailed(metricName string, err error) {
	zap.L().Warn(
		"could not get prometheus metric",
		logfields.Event("prometheus_get_metric_failed"),
		zap.String("prometheus_metric_name", metricName),
		zap.Error(err),
	)
}

func (m *metricCollector) EdgeProcessedInc(repositoryName, result string) {
	if m == nil {
		return
	}

	metric, err := m.edgesProcessed.GetMetricWith(prometheus.Labels{
		repositoryLabel: repositoryName,
		resultLabel:     result,
	})
	if err != nil {
		logGetMetricFailed(edgesProcessedMetricName, err)
		return
	}

	metric.Inc()
}

func (m *metricCollector) MergeRequestInc(repositoryName, origin string) {
	if m == nil {
		return
	}

	metric, err := m.mergeRequests.GetMetricWith(prometheus.Labels{
		repositoryLabel: repositoryName,
		originLabel:     origin,
	})
	if err != nil {
		logGetMetricFailed(mergeRequestsMetricName, err)
		return
	}

	metric.Inc()
}

func (m *metricCollector) AdditionalEdgeInc(repositoryName string) {
	if m == nil {
		return
	}

	metric, err := m.additionalEdges.GetMetricWith(prometheus.Labels{
		repositoryLabel: repositoryName,
	})
	if err != nil {
		logGetMetricFailed(additionalEdgesMetricName, err)
		return
	}

	metric.Inc()
}

func (m *metricCollector) MergeRequestRetriesAdd(cnt uint) {
	if m == nil {
		return
	}

	m.mergeRequestRetries.Add(float64(cnt))
}

func (m *metricCollector) RepoInProgressInc() {
	if m == nil {
		return
	}

	m.reposInProgress.Inc()
}

func (m *metricCollector) RepoInProgressDec() {
	if m == nil {
		return
	}

	m.reposInProgress.Dec()
}
