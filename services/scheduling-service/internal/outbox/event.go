package outbox

// Event is the envelope written to the outbox table in the same transaction
// as the aggregate change it describes.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	RoutingKey    string
	Payload       []byte
}
