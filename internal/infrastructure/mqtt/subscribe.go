package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for a topic pattern and tracks the
// subscription so it survives reconnects. MQTT wildcards work as
// usual: "perimeter/event/+" matches every severity.
//
// The one live subscription in this system is the alarm command topic;
// handlers there flip real sirens, so they run wrapped in panic
// recovery (see wrapHandler).
//
// Parameters:
//   - topic: Topic pattern to listen on
//   - qos: Maximum QoS for received messages (0, 1, or 2)
//   - handler: Called once per message, on a paho goroutine
//
// Returns:
//   - error: Validation, connection, or broker ack failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// forget drops a subscription from reconnect tracking after the broker
// rejected it.
func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}
