// Package mqtt provides the watchdog's MQTT status and command channel.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained status publishing with a Last Will for crash detection
//   - Non-blocking event publishing for watchdog observers
//   - The restart command subscription, restored after reconnects
//
// # Topics
//
//	indiwatchdog/system/status           retained online/offline (LWT)
//	indiwatchdog/device/{name}/state     retained reconciliation state
//	indiwatchdog/event/session           retained session state
//	indiwatchdog/event/restart           restart requests
//	indiwatchdog/command/restart         {"driver": "indi_x"} forces a restart
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Anyone who can publish to the command topic can restart drivers;
//     restrict it with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().RestartCommand(), 1, handler)
package mqtt
