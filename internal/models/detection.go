package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// DetectionRecord is the raw webhook delivery as kept in the key-value store.
type DetectionRecord struct {
	ID         string
	FileName   string
	Data       string
	CreateDate string
}

// FaceDetectionResult is the payload the detection service posts back.
type FaceDetectionResult struct {
	FileName          string            `json:"fileName"`
	Width             *int              `json:"width,omitempty"`
	Height            *int              `json:"height,omitempty"`
	Key               string            `json:"key"`
	RegisteredFaces   []RegisteredFace  `json:"registeredFaces"`
	UnregisteredFaces []json.RawMessage `json:"unregisteredFaces"`
}

// RegisteredFace keeps the provider's full face object next to the user id
// so detail responses echo fields this service does not interpret.
type RegisteredFace struct {
	UserID string
	Raw    json.RawMessage
}

func (f *RegisteredFace) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.UserID = userIDString(raw.UserID)
	f.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (f RegisteredFace) MarshalJSON() ([]byte, error) {
	if len(f.Raw) > 0 {
		return f.Raw, nil
	}
	return json.Marshal(map[string]string{"userId": f.UserID})
}

// NumericUserID reports the face's user id when it is an integer.
func (f RegisteredFace) NumericUserID() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(f.UserID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// HasRegisteredFaces reports whether fan-out has anything to do.
func (r FaceDetectionResult) HasRegisteredFaces() bool {
	return len(r.RegisteredFaces) > 0
}

// userIDString accepts both "5" and 5 on the wire.
func userIDString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
