package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nostr-git/gitrepublic/nostr"
)

// envelope is the common wire shape of every Nostr relay message: a JSON
// array whose first element names the message type.
type envelope []json.RawMessage

func decodeEnvelope(raw []byte) (msgType string, env envelope, err error) {
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("relay: malformed message: %w", err)
	}
	if len(env) == 0 {
		return "", nil, fmt.Errorf("relay: empty message")
	}
	if err := json.Unmarshal(env[0], &msgType); err != nil {
		return "", nil, fmt.Errorf("relay: malformed message type: %w", err)
	}
	return msgType, env, nil
}

func decodeStr(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func decodeBool(raw json.RawMessage) bool {
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func encodeREQ(subID string, filters nostr.Filters) ([]byte, error) {
	arr := make([]interface{}, 0, len(filters)+2)
	arr = append(arr, "REQ", subID)
	for _, f := range filters {
		arr = append(arr, f)
	}
	return json.Marshal(arr)
}

func encodeCLOSE(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}

func encodeEVENT(e *nostr.Event) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", e})
}

func encodeAUTH(e *nostr.Event) ([]byte, error) {
	return json.Marshal([]interface{}{"AUTH", e})
}
