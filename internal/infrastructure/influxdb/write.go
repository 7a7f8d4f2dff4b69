package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry writes one device telemetry sample to InfluxDB.
//
// This is the primary method for recording the temperature, voltage,
// and frequency readings that accompany state reports. The device
// record itself keeps only last values; history lives here.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: the device's external ID
//   - measurement: the reading name (e.g., "temperature_c", "voltage_v")
//   - value: the numeric value to record
//
// Example:
//
//	client.WriteTelemetry("sensor-front-door", "temperature_c", 21.5)
func (c *Client) WriteTelemetry(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_telemetry",
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
