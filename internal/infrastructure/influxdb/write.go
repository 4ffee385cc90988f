package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	SensorMeasurement = "allnet_sensor"
	ActorMeasurement  = "allnet_actor"
)

// SensorPoint is one numeric sensor reading.
type SensorPoint struct {
	Device   string // device host
	ID       int
	Name     string
	Category string // temperature, humidity, pressure, generic
	Unit     string
	Value    float64
	Time     time.Time
}

// ActorPoint is the observed state of one actor.
type ActorPoint struct {
	Device string
	ID     int
	Name   string
	On     bool
	Raw    string // raw state token as reported by the device
	Time   time.Time
}

// NewSensorPoint builds the allnet_sensor point for a reading.
//
// Tags carry the low-cardinality identity (device, sensor id, name, category,
// unit); the reading itself is the "value" field. A zero Time means now.
func NewSensorPoint(p SensorPoint) *write.Point {
	return write.NewPoint(
		SensorMeasurement,
		map[string]string{
			"device":    p.Device,
			"sensor_id": strconv.Itoa(p.ID),
			"name":      p.Name,
			"category":  p.Category,
			"unit":      p.Unit,
		},
		map[string]interface{}{
			"value": p.Value,
		},
		pointTime(p.Time),
	)
}

// NewActorPoint builds the allnet_actor point for an actor state.
func NewActorPoint(p ActorPoint) *write.Point {
	return write.NewPoint(
		ActorMeasurement,
		map[string]string{
			"device":   p.Device,
			"actor_id": strconv.Itoa(p.ID),
			"name":     p.Name,
		},
		map[string]interface{}{
			"on":    p.On,
			"state": p.Raw,
		},
		pointTime(p.Time),
	)
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// WriteSensorReading queues a numeric sensor reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Failures are reported through the SetOnError callback.
//
// Example:
//
//	client.WriteSensorReading(influxdb.SensorPoint{
//	    Device: "192.168.1.50", ID: 1, Name: "Temp",
//	    Category: "temperature", Unit: "°C", Value: 21.5,
//	})
func (c *Client) WriteSensorReading(p SensorPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewSensorPoint(p))
	c.sensorPoints.Add(1)
}

// WriteActorState queues an actor state point.
func (c *Client) WriteActorState(p ActorPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewActorPoint(p))
	c.actorPoints.Add(1)
}
