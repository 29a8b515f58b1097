package broker

// Every relay instance publishes to and consumes from one subject, the
// log has a single room.
var (
	StreamName  = "RELAY"
	SubjectRoom = StreamName + "." + "messages"
)
