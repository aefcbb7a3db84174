package mqtt

import (
	"encoding/json"
	"strings"
)

// EntityIDFromMessage derives the Home Assistant entity id a message
// concerns. A JSON payload carrying an entity_id field wins; otherwise
// statestream-style topics (".../<domain>/<object_id>/<attribute>")
// are read structurally. Returns "" when neither applies.
func EntityIDFromMessage(topic string, payload []byte) string {
	if id := payloadEntityID(payload); id != "" {
		return id
	}
	return statestreamEntityID(topic)
}

func payloadEntityID(payload []byte) string {
	if len(payload) == 0 || payload[0] != '{' {
		return ""
	}
	var msg struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ""
	}
	return msg.EntityID
}

// statestreamEntityID reads the trailing domain/object_id/attribute
// segments of a statestream topic. The attribute segment is required,
// so short topics like "zigbee2mqtt/lamp" are not misread as entities.
func statestreamEntityID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return ""
	}
	domain := parts[len(parts)-3]
	object := parts[len(parts)-2]
	if domain == "" || object == "" || strings.Contains(domain, ".") {
		return ""
	}
	return domain + "." + object
}
