package frostlake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReaderMetrics is the shared metric set every reader registers, mirroring
// the tableMetrics/promauto.With(reg) pattern in the teacher's table.go.
type ReaderMetrics struct {
	RowsRead         *prometheus.CounterVec
	VersionsAdvanced prometheus.Counter
	PollIterations   prometheus.Counter
	SeekTotal        prometheus.Counter
}

func NewReaderMetrics(reg prometheus.Registerer, storageType StorageType) *ReaderMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"storage_type": storageType.String()}, reg)
	return &ReaderMetrics{
		RowsRead: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "frostlake_reader_rows_read_total",
			Help: "Number of change events emitted by the reader, by event type.",
		}, []string{"event_type"}),
		VersionsAdvanced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "frostlake_reader_versions_advanced_total",
			Help: "Number of table versions/snapshots the reader has advanced past.",
		}),
		PollIterations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "frostlake_reader_poll_iterations_total",
			Help: "Number of backoff sleeps the reader has performed while polling for new data.",
		}),
		SeekTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "frostlake_reader_seek_total",
			Help: "Number of times Seek has been called on the reader.",
		}),
	}
}

// WriterMetrics is the shared metric set every writer registers.
type WriterMetrics struct {
	BatchesWritten prometheus.Counter
	WriteDuration  prometheus.Histogram
}

func NewWriterMetrics(reg prometheus.Registerer, storageType StorageType) *WriterMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"storage_type": storageType.String()}, reg)
	return &WriterMetrics{
		BatchesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "frostlake_writer_batches_written_total",
			Help: "Number of batches successfully committed.",
		}),
		WriteDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "frostlake_writer_write_batch_duration_seconds",
			Help:    "Latency of a single WriteBatch call, including commit.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
