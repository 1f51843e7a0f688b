package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed marks a payload that does not match its canonical schema.
// Redelivering such a message can never succeed.
var ErrMalformed = errors.New("malformed event payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// snsEnvelope is the JSON wrapper SNS puts around messages delivered to SQS.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Unwrap strips an SNS notification envelope if present.
func Unwrap(body []byte) []byte {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" && (env.Type == "" || env.Type == "Notification") {
		return []byte(env.Message)
	}
	return body
}

// Decode unwraps, parses and validates body into v.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(Unwrap(body), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode validates evt and marshals it to JSON.
func Encode(evt Event) ([]byte, error) {
	if err := validate.Struct(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, evt.RoutingKey(), err)
	}
	return json.Marshal(evt)
}
