package ws

const TypeRosterUpdate = "roster_update"

type OutgoingMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
