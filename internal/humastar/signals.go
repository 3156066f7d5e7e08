package humastar

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
)

// Signals is the flat JSON object Datastar posts with each action.
type Signals map[string]any

func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns the signal at key, or "" when it is missing or not a string.
func (s Signals) String(key string) string {
	str, _ := s[key].(string)
	return str
}

type EmptyInput struct{}

// SignalsInput receives the raw Datastar request body.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses the body, mapping malformed JSON to a 400.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
