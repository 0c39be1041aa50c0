// Package identity adapts external auth-provider results at the boundary.
// Provider error codes arrive as strings ("auth/user-not-found", ...); they
// are translated into a closed Kind enum exactly once, here, so no other
// package compares provider string literals.
package identity

// Kind classifies an authentication failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUserNotFound
	KindWrongPassword
	KindInvalidEmail
	KindEmailInUse
	KindTooManyRequests
	KindNetwork
)

// Provider error codes observed at the boundary.
const (
	codeUserNotFound    = "auth/user-not-found"
	codeWrongPassword   = "auth/wrong-password"
	codeInvalidEmail    = "auth/invalid-email"
	codeEmailInUse      = "auth/email-already-in-use"
	codeTooManyRequests = "auth/too-many-requests"
	codeNetworkFailed   = "auth/network-request-failed"
)

// KindFromCode maps a provider error code to a Kind. Unrecognized codes
// (including future ones) map to KindUnknown.
func KindFromCode(code string) Kind {
	switch code {
	case codeUserNotFound:
		return KindUserNotFound
	case codeWrongPassword:
		return KindWrongPassword
	case codeInvalidEmail:
		return KindInvalidEmail
	case codeEmailInUse:
		return KindEmailInUse
	case codeTooManyRequests:
		return KindTooManyRequests
	case codeNetworkFailed:
		return KindNetwork
	default:
		return KindUnknown
	}
}

// Message returns the user-facing text for a Kind.
func (k Kind) Message() string {
	switch k {
	case KindUserNotFound:
		return "no account found for that email"
	case KindWrongPassword:
		return "incorrect password"
	case KindInvalidEmail:
		return "invalid email address"
	case KindEmailInUse:
		return "email is already registered"
	case KindTooManyRequests:
		return "too many attempts, try again later"
	case KindNetwork:
		return "network error, try again"
	default:
		return "sign-in failed"
	}
}

func (k Kind) String() string {
	switch k {
	case KindUserNotFound:
		return "user_not_found"
	case KindWrongPassword:
		return "wrong_password"
	case KindInvalidEmail:
		return "invalid_email"
	case KindEmailInUse:
		return "email_in_use"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}
