// Package mqtt provides MQTT client connectivity for the Allnet bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders for the {prefix}/{category}/allnet/{address} scheme
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) outside a trusted LAN
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("command: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.PublishRetained(topics.State(mqtt.SensorAddress(1)), []byte(`{"value":"21.5"}`))
package mqtt
