package platform

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// FailureKind is the closed taxonomy every attempt outcome maps into.
// Nothing outside Classify inspects raw status codes.
type FailureKind int

const (
	KindSuccess FailureKind = iota
	KindBenignDuplicate
	KindThrottled
	KindAuthExpired
	KindTransient
	KindMaintenance
	KindFatal
)

func (k FailureKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindBenignDuplicate:
		return "benign_duplicate"
	case KindThrottled:
		return "throttled"
	case KindAuthExpired:
		return "auth_expired"
	case KindTransient:
		return "transient"
	case KindMaintenance:
		return "maintenance"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Failure is the classified outcome of a single attempt. It doubles as the
// error value surfaced to callers when retries are exhausted or not allowed.
type Failure struct {
	Kind       FailureKind
	Code       ErrorCode
	Message    string
	RetryAfter time.Duration

	// PotentialSuccess marks outcomes where the server may have applied the
	// operation even though we could not read a definitive answer. Callers
	// of state-changing operations should verify rather than blindly reissue.
	PotentialSuccess bool
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("platform: %s (%s, code %d)", f.Message, f.Kind, f.Code)
	}
	return fmt.Sprintf("platform: %s (code %d)", f.Kind, f.Code)
}

// DefaultThrottleWait is used when the server signals throttling without
// suggesting a wait. It covers the longest common throttle window.
const DefaultThrottleWait = 35 * time.Second

// Classify maps one attempt's raw outcome into a Failure. env is nil when
// the body could not be parsed as a platform envelope. stateChanging marks
// endpoint families whose operations may partially succeed server-side.
//
// The envelope, when present, wins over the HTTP status: the platform
// routinely returns 200 with a non-success code, and 5xx with a meaningful
// one.
func Classify(status int, env *Envelope, stateChanging bool, retryAfter time.Duration) Failure {
	if env != nil {
		return classifyEnvelope(env, retryAfter)
	}

	switch {
	case status == http.StatusTooManyRequests:
		if retryAfter <= 0 {
			retryAfter = DefaultThrottleWait
		}
		return Failure{Kind: KindThrottled, RetryAfter: retryAfter, Message: "rate limited"}

	case status == http.StatusInternalServerError:
		if stateChanging {
			// The operation may have landed before the server fell over.
			// Retrying a transfer or equip here risks a duplicate effect.
			return Failure{
				Kind:             KindFatal,
				Message:          "server error on state-changing operation",
				PotentialSuccess: true,
			}
		}
		return Failure{Kind: KindTransient, Message: "server error", PotentialSuccess: true}

	case status >= 502 && status <= 526:
		return Failure{Kind: KindTransient, Message: fmt.Sprintf("upstream error (HTTP %d)", status), PotentialSuccess: true}

	case status >= 500:
		return Failure{Kind: KindTransient, Message: fmt.Sprintf("server error (HTTP %d)", status), PotentialSuccess: true}

	default:
		return Failure{Kind: KindFatal, Message: fmt.Sprintf("malformed platform response (HTTP %d)", status)}
	}
}

func classifyEnvelope(env *Envelope, retryAfter time.Duration) Failure {
	switch {
	case env.ErrorCode == CodeSuccess:
		return Failure{Kind: KindSuccess, Code: env.ErrorCode}

	case benignCodes[env.ErrorCode]:
		return Failure{Kind: KindBenignDuplicate, Code: env.ErrorCode, Message: env.Message}

	case throttleCodes[env.ErrorCode]:
		wait := time.Duration(env.ThrottleSeconds) * time.Second
		if wait <= 0 {
			wait = retryAfter
		}
		if wait <= 0 {
			wait = DefaultThrottleWait
		}
		return Failure{Kind: KindThrottled, Code: env.ErrorCode, Message: env.Message, RetryAfter: wait}

	case authCodes[env.ErrorCode]:
		return Failure{Kind: KindAuthExpired, Code: env.ErrorCode, Message: env.Message}

	case env.ErrorCode == CodeSystemDisabled:
		return Failure{Kind: KindMaintenance, Code: env.ErrorCode, Message: env.Message}

	default:
		return Failure{Kind: KindFatal, Code: env.ErrorCode, Message: env.Message}
	}
}

// ParseRetryAfter reads a Retry-After header value in seconds. Zero means
// absent or unusable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
