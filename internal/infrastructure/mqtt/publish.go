package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound messages at 1MB, in line with common
// broker limits. Event payloads are a few hundred bytes; hitting this
// means something upstream is broken.
const maxPayloadSize = 1 << 20

// Publish sends one message.
//
// Events go out non-retained: a subscriber joining later gets current
// state from a snapshot, not a stale alarm. Retained is reserved for
// the system status topic.
//
// Parameters:
//   - topic: Destination, e.g. "perimeter/event/critical"
//   - payload: Message body, JSON by convention
//   - qos: Delivery guarantee (0, 1, or 2)
//   - retained: Whether the broker keeps it for new subscribers
//
// Returns:
//   - error: Validation, connection, or broker ack failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
