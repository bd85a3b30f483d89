// Package identity resolves the actor operating the current session.
// Lease ownership and notification attribution are stamped with this
// actor's id.
package identity

import (
	"github.com/schemaflow/backend/internal/config"
	"github.com/schemaflow/backend/internal/models"
	"github.com/schemaflow/backend/internal/uuid"
)

// Provider resolves the current actor.
type Provider interface {
	CurrentActor() models.Actor
}

// Static is a provider backed by configuration. Each client process runs
// as exactly one actor for its whole lifetime.
type Static struct {
	actor models.Actor
}

// NewStatic builds a provider from the configured actor identity. A
// missing id is replaced with a generated one so a fresh install can run
// before any profile is configured.
func NewStatic(cfg config.ActorConfig) *Static {
	actor := models.Actor{
		ID:          cfg.ID,
		Email:       cfg.Email,
		DisplayName: cfg.DisplayName,
	}
	if actor.ID == "" {
		actor.ID = uuid.New()
	}
	if actor.DisplayName == "" {
		actor.DisplayName = actor.Email
	}
	return &Static{actor: actor}
}

// CurrentActor returns the session actor.
func (s *Static) CurrentActor() models.Actor {
	return s.actor
}
