package output

import "errors"

// Output delivers payloads to a topic.
type Output interface {
	Publish(topic string, payload []byte) error
	Close() error
}

// Subscriber delivers messages received on a topic to handler.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// Multi publishes to every output in order.
type Multi []Output

func (m Multi) Publish(topic string, payload []byte) error {
	var errs []error
	for _, o := range m {
		if err := o.Publish(topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, o := range m {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// helper constructors are in subpackages
