package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    builds = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pagesort",
            Name:      "builds_total",
            Help:      "Total document builds by outcome (finalized, empty, write_failed, ...)",
        },
        []string{"outcome"},
    )

    buildLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "pagesort",
            Name:      "build_duration_seconds",
            Help:      "Duration of document builds by outcome",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"outcome"},
    )

    imagesSkipped = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pagesort",
            Name:      "images_skipped_total",
            Help:      "Images excluded from a batch, by reason (decode, metric, intake)",
        },
        []string{"reason"},
    )

    imagesPlaced = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "pagesort",
            Name:      "images_placed_total",
            Help:      "Total images placed into documents",
        },
    )

    pagesGenerated = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "pagesort",
            Name:      "pages_generated",
            Help:      "Pages per finalized document",
            Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
        },
    )

    buildsInFlight = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "pagesort",
            Name:      "builds_in_flight",
            Help:      "Builds currently holding a slot",
        },
    )

    archiveUploads = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "pagesort",
            Name:      "archive_uploads_total",
            Help:      "Artifact archive uploads by result",
        },
        []string{"result"},
    )
)

var once sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
    once.Do(func() {
        prometheus.MustRegister(builds, buildLatency, imagesSkipped, imagesPlaced, pagesGenerated, buildsInFlight, archiveUploads)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveBuild(outcome string, dur time.Duration, pages int) {
    builds.WithLabelValues(outcome).Inc()
    buildLatency.WithLabelValues(outcome).Observe(dur.Seconds())
    if pages > 0 { pagesGenerated.Observe(float64(pages)) }
}

func IncSkipped(reason string) { imagesSkipped.WithLabelValues(reason).Inc() }
func AddPlaced(n int)          { imagesPlaced.Add(float64(n)) }
func SetInFlight(n int)        { buildsInFlight.Set(float64(n)) }

func ArchiveUploaded(ok bool) {
    if ok {
        archiveUploads.WithLabelValues("success").Inc()
        return
    }
    archiveUploads.WithLabelValues("failure").Inc()
}
