package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading records a numeric value observed on a broker metering
// tag. This is the bridge's meter telemetry sink.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - tag: Full broker tag (e.g., "grid.meter.power")
//   - value: The observed numeric value
//   - observedAt: Broker-supplied observation time
//
// Example:
//
//	client.WriteReading("grid.meter.power", 1450.2, update.ObservedAt)
func (c *Client) WriteReading(tag string, value float64, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"meter_readings",
		map[string]string{
			"tag": tag,
		},
		map[string]interface{}{
			"value": value,
		},
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceMetric writes a single device measurement.
//
// Parameters:
//   - deviceID: Unique identifier for the device
//   - measurement: The metric name (e.g., "power_watts", "temperature_c")
//   - value: The numeric value to record
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
