package mqtt

import (
	"encoding/json"
	"fmt"

	"worldtime-display/internal/worldclock"
)

// payloadVersion is bumped when the published document changes shape.
const payloadVersion = 1

// message is the published document: the snapshot plus a format version.
type message struct {
	Version int `json:"v"`
	worldclock.Snapshot
}

// EncodeSnapshot renders the document published on the snapshot topic.
func EncodeSnapshot(snapshot worldclock.Snapshot) ([]byte, error) {
	return json.Marshal(message{Version: payloadVersion, Snapshot: snapshot})
}

// DecodeSnapshot parses a document produced by EncodeSnapshot. Unknown
// versions are rejected so subscribers fail loudly instead of misreading.
func DecodeSnapshot(payload []byte) (worldclock.Snapshot, error) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return worldclock.Snapshot{}, fmt.Errorf("mqtt: decode snapshot: %w", err)
	}
	if msg.Version != payloadVersion {
		return worldclock.Snapshot{}, fmt.Errorf("mqtt: unsupported payload version %d", msg.Version)
	}
	return msg.Snapshot, nil
}
