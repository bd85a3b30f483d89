package identity

import (
	"testing"

	"github.com/schemaflow/backend/internal/config"
	"github.com/schemaflow/backend/internal/uuid"
)

func TestStaticProvider(t *testing.T) {
	p := NewStatic(config.ActorConfig{
		ID:          "actor-1",
		Email:       "dev@example.com",
		DisplayName: "Dev One",
	})

	actor := p.CurrentActor()
	if actor.ID != "actor-1" {
		t.Errorf("ID = %s, want actor-1", actor.ID)
	}
	if actor.DisplayName != "Dev One" {
		t.Errorf("DisplayName = %s, want Dev One", actor.DisplayName)
	}
}

func TestStaticProviderGeneratesID(t *testing.T) {
	p := NewStatic(config.ActorConfig{Email: "dev@example.com"})

	actor := p.CurrentActor()
	if !uuid.IsValid(actor.ID) {
		t.Errorf("Expected a generated UUID actor id, got %q", actor.ID)
	}
	if actor.DisplayName != "dev@example.com" {
		t.Errorf("DisplayName fallback = %s, want email", actor.DisplayName)
	}
}

func TestStaticProviderIsStable(t *testing.T) {
	p := NewStatic(config.ActorConfig{Email: "dev@example.com"})

	if p.CurrentActor().ID != p.CurrentActor().ID {
		t.Error("CurrentActor must return the same actor across calls")
	}
}
