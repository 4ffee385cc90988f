// Package influxdb records Allnet telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//	allnet_sensor  tags: device, sensor_id, name, category, unit  fields: value
//	allnet_actor   tags: device, actor_id, name                   fields: on, state
//
// Only sensor readings with a numeric value are written; string readings
// remain visible through the snapshot and MQTT state topics.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteSensorReading(influxdb.SensorPoint{Device: host, ID: 1, Value: 21.5})
//
// # Error Handling
//
// Write operations are non-blocking. Batch errors are counted in Stats and
// delivered to the SetOnError callback wrapped in ErrWriteFailed. Connection
// and health check errors are returned directly.
package influxdb
