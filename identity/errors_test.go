package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFromCode(t *testing.T) {
	cases := []struct {
		code string
		kind Kind
	}{
		{"auth/user-not-found", KindUserNotFound},
		{"auth/wrong-password", KindWrongPassword},
		{"auth/invalid-email", KindInvalidEmail},
		{"auth/email-already-in-use", KindEmailInUse},
		{"auth/too-many-requests", KindTooManyRequests},
		{"auth/network-request-failed", KindNetwork},
		{"auth/something-new", KindUnknown},
		{"", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindFromCode(tc.code), "code %q", tc.code)
	}
}

func TestKindMessagesAreDistinct(t *testing.T) {
	kinds := []Kind{KindUnknown, KindUserNotFound, KindWrongPassword,
		KindInvalidEmail, KindEmailInUse, KindTooManyRequests, KindNetwork}
	seen := make(map[string]Kind, len(kinds))
	for _, k := range kinds {
		msg := k.Message()
		assert.NotEmpty(t, msg)
		prev, dup := seen[msg]
		assert.False(t, dup, "kinds %v and %v share message %q", prev, k, msg)
		seen[msg] = k
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "user_not_found", KindUserNotFound.String())
	assert.Equal(t, "unknown", KindUnknown.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
