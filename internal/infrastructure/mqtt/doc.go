// Package mqtt connects Sentinel Core to an MQTT broker.
//
// The broker carries three kinds of traffic:
//
//	sentinel/events/{kind}/{id}          change events, QoS 1
//	sentinel/discovery/{kind}            new entities announced by scanners
//	sentinel/discovery/device/removed    devices that left the network
//	sentinel/signals/{level}             dispatched notifications
//	sentinel/system/status               retained online/offline status (LWT)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), 1, func(topic string, payload []byte) error {
//	    ev, err := channel.Decode(payload)
//	    ...
//	})
//
// TLS should be enabled for anything other than a local broker.
package mqtt
