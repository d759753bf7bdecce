package converter

// Payload is a serialized value as stored in the durable database.
type Payload []byte

type Converter interface {
	// To converts the given value to a payload
	To(v any) (Payload, error)

	// From converts the given payload to a value
	From(data Payload, vptr any) error
}

var DefaultConverter Converter = &jsonConverter{}
