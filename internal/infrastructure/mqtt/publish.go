package mqtt

import (
	"fmt"
)

// Payloads larger than this are refused before reaching the broker.
const maxPayloadSize = 1 << 20

// PublishAsync queues a message with the configured QoS and returns
// without waiting for the broker. Delivery failures are logged, never
// returned, so watchdog observers can publish from the sweep.
//
// State topics (device state, session status) are retained; event topics
// are not.
func (c *Client) PublishAsync(topic string, payload []byte, retained bool) error {
	qos := byte(c.cfg.QoS)
	if err := c.checkPublish(topic, payload, qos); err != nil {
		return err
	}

	token := c.client.Publish(topic, qos, retained, payload)
	go func() {
		if !token.WaitTimeout(defaultPublishTimeout) {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT publish timed out", "topic", topic)
			}
			return
		}
		if err := token.Error(); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT publish failed", "topic", topic, "error", err)
			}
		}
	}()
	return nil
}

func (c *Client) checkPublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
