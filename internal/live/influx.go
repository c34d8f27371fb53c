package live

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	api "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mekleo/dnsvantage/internal/domain"
)

// InfluxSink records answered probes as points in an InfluxDB bucket.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      *slog.Logger
}

// NewInfluxSink builds the sink. The client connects lazily, so
// connectivity problems surface on the first write.
func NewInfluxSink(url, token, org, bucket string, logger *slog.Logger) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger,
	}
}

var _ Publisher = (*InfluxSink)(nil)

// Publish writes one query_time point per answered probe. Other outcome
// kinds carry no latency worth charting and are skipped.
func (s *InfluxSink) Publish(m Measurement) {
	if m.Kind != domain.KindReceiveData.String() {
		return
	}
	point := influxdb2.NewPointWithMeasurement("query_time").
		AddTag("domain", m.Domain).
		AddTag("instance", m.InstanceID).
		AddField("duration_ms", m.DurationMS).
		SetTime(time.Unix(m.Time, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, point); err != nil && s.log != nil {
		s.log.Warn("influx write failed", "domain", m.Domain, "error", err)
	}
}

// Close flushes buffered writes and releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
