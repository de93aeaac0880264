package bus

import "encoding/json"

// PublishJSON marshals v and publishes it on subject.
// Feed payloads are always JSON so the NATS and memory buses stay
// interchangeable.
func PublishJSON(b FeedBus, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(subject, data)
}

// Decode unmarshals a feed message payload into v.
func Decode(msg *Message, v interface{}) error {
	return json.Unmarshal(msg.Data, v)
}
