// Package mqtt provides the broker connection used by the Tasmota bridge.
//
// This package manages:
//   - Connection to the broker with paho auto-reconnect
//   - Publishing with payload size and QoS validation
//   - Tracked subscriptions, restored after reconnect or Reset
//   - A retained bridge status topic doubling as Last Will
//
// Tasmota devices and the bridge share one broker:
//
//	Tasmota devices ↔ MQTT Broker ↔ tasmota-bridge
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("tele/#", 0, func(topic string, payload []byte) error {
//	    log.Printf("%s = %s", topic, payload)
//	    return nil
//	})
//
//	client.Publish("cmnd/kitchen/POWER", []byte("TOGGLE"), 0, false)
package mqtt
