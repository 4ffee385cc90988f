// Package allnet implements the client side of the Allnet XML-over-HTTP
// protocol used by ALL3500-family sensor/actor controllers.
//
// The package is split in two layers:
//
//   - Client issues authenticated GET requests against the fixed /xml/
//     endpoints and decodes the responses into raw records.
//   - Discovery turns raw records into the normalised SensorReading and
//     ActorState values, dropping disabled or invalid entries.
//
// Classify infers a measurement category (temperature, humidity, pressure,
// generic) from a sensor's unit and name.
//
// # Endpoints
//
//	/xml/?mode=info                      device identity
//	/xml/?mode=sensor&type=list          all sensors
//	/xml/?mode=sensor&id=<N>&simple      single sensor
//	/xml/?mode=actor&type=list           all actors
//	/xml/?mode=actor&id=<N>              single actor
//	/xml/?mode=actor&id=<N>&action=<0|1> switch actor
//
// Every request uses basic authentication and a fixed 10 second timeout.
// The client never retries; retry policy belongs to the caller.
//
// # Errors
//
// Transport failures (DNS, connect, timeout, non-2xx status) wrap
// ErrConnection. Malformed documents wrap ErrProtocol. Use errors.Is to
// distinguish them.
//
// # Thread Safety
//
// Client and Discovery are safe for concurrent use.
package allnet
