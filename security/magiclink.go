package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/exef-io/exef/model"
)

// Magic-link validation errors.
var (
	ErrLinkNotFound = errors.New("nieprawidłowy link logowania")
	ErrLinkExpired  = errors.New("link logowania wygasł")
	ErrLinkUsed     = errors.New("link logowania został już wykorzystany")
)

// MagicLinkService issues and consumes single-use login tokens stored in the
// main database. Delivery of the link is the caller's concern.
type MagicLinkService struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewMagicLinkService(db *gorm.DB, ttl time.Duration) *MagicLinkService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MagicLinkService{db: db, ttl: ttl}
}

// Issue creates a fresh token for the identity. The raw token is returned
// once; only its row is persisted.
func (s *MagicLinkService) Issue(identityID string) (*model.MagicLink, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	link := model.MagicLink{
		ID:         model.NewID(),
		IdentityID: identityID,
		Token:      hex.EncodeToString(raw),
		ExpiresAt:  time.Now().Add(s.ttl),
	}
	if err := s.db.Create(&link).Error; err != nil {
		return nil, fmt.Errorf("failed to store magic link: %w", err)
	}
	return &link, nil
}

// Consume validates a token and marks it used. A token validates exactly
// once and only within its lifetime.
func (s *MagicLinkService) Consume(token string) (*model.MagicLink, error) {
	var link model.MagicLink
	if err := s.db.First(&link, "token = ?", token).Error; err != nil {
		return nil, ErrLinkNotFound
	}
	if link.UsedAt != nil {
		return nil, ErrLinkUsed
	}
	if time.Now().After(link.ExpiresAt) {
		return nil, ErrLinkExpired
	}
	now := time.Now()
	if err := s.db.Model(&model.MagicLink{}).Where("id = ? AND used_at IS NULL", link.ID).
		Update("used_at", &now).Error; err != nil {
		return nil, fmt.Errorf("failed to mark link used: %w", err)
	}
	link.UsedAt = &now
	return &link, nil
}
