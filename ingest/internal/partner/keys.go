package partner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/repository"
)

const keyPrefix = "pk_"

// ErrInvalidKey covers every reason a partner key is refused.
var ErrInvalidKey = errors.New("invalid partner api key")

type PartnerStore interface {
	GetPartner(ctx context.Context, id string) (*models.Partner, error)
}

// GenerateKey returns a new pk_<partnerID>_<secret> key and the bcrypt hash
// of its secret. Only the hash is stored.
func GenerateKey(partnerID string) (key, hash string, err error) {
	if partnerID == "" || strings.Contains(partnerID, "_") {
		return "", "", fmt.Errorf("partner id %q cannot be embedded in a key", partnerID)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash secret: %w", err)
	}
	return keyPrefix + partnerID + "_" + secret, string(h), nil
}

// ParseKey splits a key into partner id and secret.
func ParseKey(key string) (partnerID, secret string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(key), keyPrefix)
	if !ok {
		return "", "", ErrInvalidKey
	}
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", "", ErrInvalidKey
	}
	return rest[:i], rest[i+1:], nil
}

type KeyVerifier struct {
	store PartnerStore
}

func NewKeyVerifier(store PartnerStore) *KeyVerifier {
	return &KeyVerifier{store: store}
}

// Verify returns the active partner that owns key.
func (v *KeyVerifier) Verify(ctx context.Context, key string) (*models.Partner, error) {
	partnerID, secret, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	p, err := v.store.GetPartner(ctx, partnerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup partner: %w", err)
	}
	if err != nil || !p.IsActive || p.APIKeyHash == "" {
		return nil, ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(p.APIKeyHash), []byte(secret)) != nil {
		return nil, ErrInvalidKey
	}
	return p, nil
}
