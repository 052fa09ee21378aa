package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"email":"a@b.co"}`)
	sig := Sign("s3cret", body)

	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Sign("s3cret", body))
	assert.NotEqual(t, sig, Sign("other", body))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"email":"a@b.co"}`)
	sig := Sign("s3cret", body)

	tests := []struct {
		name string
		sig  string
		want bool
	}{
		{"plain hex", sig, true},
		{"prefixed", "sha256=" + sig, true},
		{"uppercase", strings.ToUpper(sig), true},
		{"wrong secret", Sign("nope", body), false},
		{"truncated", sig[:10], false},
		{"not hex", "zz" + sig[2:], false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify("s3cret", body, tt.sig))
		})
	}
}

func TestVerifyRejectsModifiedBody(t *testing.T) {
	sig := Sign("s3cret", []byte(`{"a":1}`))
	assert.False(t, Verify("s3cret", []byte(`{"a":2}`), sig))
}

func TestSecretEqual(t *testing.T) {
	assert.True(t, SecretEqual("abc", "abc"))
	assert.False(t, SecretEqual("abd", "abc"))
	assert.False(t, SecretEqual("", ""))
}
