package utils_test

import (
	"testing"

	"github.com/jrsteele09/cognito-guard/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestClaimStrings(t *testing.T) {
	tests := []struct {
		name  string
		claim any
		want  []string
	}{
		{name: "json array", claim: []any{"admin", 7, "", "ops"}, want: []string{"admin", "ops"}},
		{name: "string slice", claim: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "space delimited", claim: "openid  profile", want: []string{"openid", "profile"}},
		{name: "missing", claim: nil, want: nil},
		{name: "wrong type", claim: 42.0, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, utils.ClaimStrings(tc.claim))
		})
	}
}
