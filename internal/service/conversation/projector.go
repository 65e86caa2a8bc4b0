package conversation

import "github.com/wakabalab/eikaiwa/backend/internal/model/chat"

// ModelRole is the role vocabulary the language model consumes.
type ModelRole string

const (
	ModelRoleUser  ModelRole = "user"
	ModelRoleModel ModelRole = "model"
)

// ModelTurn is one entry of the model-facing history.
type ModelTurn struct {
	Role ModelRole
	Text string
}

// ProjectHistory derives the model-facing turn sequence from a
// transcript snapshot. System notices are dropped entirely; everything
// else keeps its position. Pure function, deterministic for identical
// input.
func ProjectHistory(turns []chat.Turn) []ModelTurn {
	history := make([]ModelTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Kind == chat.KindSystemNotice {
			continue
		}
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, ModelTurn{Role: ModelRoleUser, Text: turn.Content})
		case chat.RoleAssistant:
			history = append(history, ModelTurn{Role: ModelRoleModel, Text: turn.Content})
		}
	}
	return history
}
