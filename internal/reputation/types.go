// Package reputation tracks how factions feel about players. NPC dialogue
// prompts reference the standing tier, so the store sits next to the relay
// instead of in the game server.
package reputation

import (
	"context"
	"time"
)

// Standing is a player's score with one faction.
type Standing struct {
	PlayerID  string    `json:"player_id"`
	FactionID string    `json:"faction_id"`
	Score     int       `json:"score"`
	Tier      string    `json:"tier"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists and retrieves faction standings.
type Store interface {
	Get(ctx context.Context, playerID, factionID string) (Standing, error)
	Adjust(ctx context.Context, playerID, factionID string, delta int) (Standing, error)
	Close() error
}

// Describe maps a raw score onto the tier names dialogue prompts use.
func Describe(score int) string {
	switch {
	case score < -50:
		return "hated"
	case score < -10:
		return "hostile"
	case score <= 10:
		return "neutral"
	case score <= 50:
		return "respected"
	default:
		return "friendly"
	}
}
