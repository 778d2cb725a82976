// Package platform implements the resilient access layer for the game
// platform API: error classification, adaptive backoff, request pacing,
// and a serialized executor with retry policy.
//
// This package contains:
//   - Classify: maps raw HTTP status + platform error code to a Failure
//   - Backoff: process-wide throttle severity with exponential waits
//   - PacingTable: per-endpoint-family minimum dispatch intervals
//   - Sequencer: FIFO queue with a single dispatching worker
//   - Client: the public entry point tying it all together
package platform

import "encoding/json"

// ErrorCode is the platform-level error code carried in every response
// envelope, independent of the HTTP status.
type ErrorCode int32

const (
	CodeNone    ErrorCode = 0
	CodeSuccess ErrorCode = 1

	// The platform is down for maintenance. Not an auth failure, never retried.
	CodeSystemDisabled ErrorCode = 5

	// Throttle family. The envelope usually carries a suggested wait.
	CodePerMinuteThrottle      ErrorCode = 35
	CodeMomentaryThrottle      ErrorCode = 36
	CodePerSecondThrottle      ErrorCode = 37
	CodePerApplicationThrottle ErrorCode = 51
	CodePerUserThrottle        ErrorCode = 52
	CodeGameServerThrottle     ErrorCode = 1672

	// Auth family. All of these mean the access token is no longer usable.
	CodeWebAuthRequired    ErrorCode = 99
	CodeAccessTokenExpired ErrorCode = 2111
	CodeAuthRecordRevoked  ErrorCode = 2124
	CodeAuthRecordExpired  ErrorCode = 2125
	CodeAuthRecordStale    ErrorCode = 2126
	CodeAuthRecordInvalid  ErrorCode = 2127

	// "Already in the requested state" family. The operation the caller
	// wanted is already in effect server-side, so these count as success.
	CodeSocketAlreadyContainsPlug   ErrorCode = 1679
	CodeItemAlreadyInRequestedState ErrorCode = 1680
)

var throttleCodes = map[ErrorCode]bool{
	CodePerMinuteThrottle:      true,
	CodeMomentaryThrottle:      true,
	CodePerSecondThrottle:      true,
	CodePerApplicationThrottle: true,
	CodePerUserThrottle:        true,
	CodeGameServerThrottle:     true,
}

var authCodes = map[ErrorCode]bool{
	CodeWebAuthRequired:    true,
	CodeAccessTokenExpired: true,
	CodeAuthRecordRevoked:  true,
	CodeAuthRecordExpired:  true,
	CodeAuthRecordStale:    true,
	CodeAuthRecordInvalid:  true,
}

var benignCodes = map[ErrorCode]bool{
	CodeSocketAlreadyContainsPlug:   true,
	CodeItemAlreadyInRequestedState: true,
}

// Envelope is the generic response wrapper every platform endpoint returns.
// Business payloads live in Response and are opaque to this layer.
type Envelope struct {
	Response        json.RawMessage `json:"Response"`
	ErrorCode       ErrorCode       `json:"ErrorCode"`
	ErrorStatus     string          `json:"ErrorStatus"`
	Message         string          `json:"Message"`
	ThrottleSeconds int             `json:"ThrottleSeconds"`
}

// ParseEnvelope decodes a response body into an Envelope. A nil result with
// nil error never happens; an error means the body was not a valid envelope.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.ErrorCode == CodeNone && env.ErrorStatus == "" {
		// A 2xx proxy page or HTML error page can decode into an empty
		// struct; treat that as unparsable.
		return nil, errNotAnEnvelope
	}
	return &env, nil
}

type envelopeError string

func (e envelopeError) Error() string { return string(e) }

const errNotAnEnvelope = envelopeError("body is not a platform envelope")
