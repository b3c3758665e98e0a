package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/repo"
)

const apiKeyPrefix = "pl_"

// IssueAPIKey creates a key for actor in orgID. Only the hash is stored; the
// returned plaintext is the one chance to see it.
func (a *App) IssueAPIKey(ctx context.Context, orgID string, actor domain.Actor, name string) (string, domain.APIKey, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" || strings.TrimSpace(actor.ID) == "" {
		return "", domain.APIKey{}, domain.Errorf(domain.KindValidationFailed, "org and actor id are required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Role:      actor.Role,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}
