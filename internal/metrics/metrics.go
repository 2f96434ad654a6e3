package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flower",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flower",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flower",
			Subsystem: "classifier",
			Name:      "predictions_total",
			Help:      "Predictions served, by source and whether the class is in the catalog.",
		},
		[]string{"source", "known"},
	)
	inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flower",
			Subsystem: "classifier",
			Name:      "inference_duration_seconds",
			Help:      "Preprocessing plus model run time.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	feedbackRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flower",
			Subsystem: "feedback",
			Name:      "records_total",
			Help:      "Feedback records appended, by kind (confirm or correction).",
		},
		[]string{"kind"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, predictions, inferenceDuration, feedbackRecords)
	})
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func RecordPrediction(source string, known bool, took time.Duration) {
	predictions.WithLabelValues(source, strconv.FormatBool(known)).Inc()
	inferenceDuration.Observe(took.Seconds())
}

func RecordFeedback(confirmed bool) {
	kind := "correction"
	if confirmed {
		kind = "confirm"
	}
	feedbackRecords.WithLabelValues(kind).Inc()
}
