package webhook

import (
	"strings"
	"sync/atomic"
)

// SecretStore holds the per-source shared secrets. The whole set is swapped
// at once so a request never sees a half-applied rotation.
type SecretStore struct {
	secrets atomic.Pointer[map[string]string]
}

func NewSecretStore(secrets map[string]string) *SecretStore {
	s := &SecretStore{}
	s.Replace(secrets)
	return s
}

// Replace installs a new secret set. Sources with an empty secret are
// treated as not configured.
func (s *SecretStore) Replace(secrets map[string]string) {
	next := make(map[string]string, len(secrets))
	for source, secret := range secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			next[strings.ToLower(source)] = secret
		}
	}
	s.secrets.Store(&next)
}

// Lookup returns the secret for source.
func (s *SecretStore) Lookup(source string) (string, bool) {
	m := s.secrets.Load()
	if m == nil {
		return "", false
	}
	secret, ok := (*m)[strings.ToLower(source)]
	return secret, ok
}

// Sources returns the number of configured sources.
func (s *SecretStore) Sources() int {
	m := s.secrets.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}
