package tasks

import (
	"fmt"

	"github.com/WordPress/openverse-api/internal/domain"
)

// ActionKind enumerates the operations the task scheduler can launch.
type ActionKind string

const (
	// ActionReindex rebuilds a new index for a media type from the API
	// database, fanned out across the indexer worker pool when one is
	// configured.
	ActionReindex ActionKind = "REINDEX"
	// ActionUpdateIndex reindexes only rows updated since a given date.
	ActionUpdateIndex ActionKind = "UPDATE_INDEX"
	// ActionPointAlias atomically points an alias at a concrete index.
	ActionPointAlias ActionKind = "POINT_ALIAS"
	// ActionPromote reindexes into a fresh index and, on full success,
	// points the serving alias at it.
	ActionPromote ActionKind = "PROMOTE"
	// ActionDeleteIndex deletes a non-serving index.
	ActionDeleteIndex ActionKind = "DELETE_INDEX"
	// ActionIngestUpstream refreshes the API database from the upstream
	// catalog and reindexes the result.
	ActionIngestUpstream ActionKind = "INGEST_UPSTREAM"
)

// ParseAction validates an action name from a request body.
func ParseAction(s string) (ActionKind, error) {
	switch ActionKind(s) {
	case ActionReindex, ActionUpdateIndex, ActionPointAlias,
		ActionPromote, ActionDeleteIndex, ActionIngestUpstream:
		return ActionKind(s), nil
	default:
		return "", &domain.FieldError{
			Field:   "action",
			Message: fmt.Sprintf("unknown action %q", s),
		}
	}
}

// Request is the body of a task scheduling call.
type Request struct {
	Model       string `json:"model"`
	Action      string `json:"action"`
	SinceDate   string `json:"since_date,omitempty"`
	IndexSuffix string `json:"index_suffix,omitempty"`
	Alias       string `json:"alias,omitempty"`
	ForceDelete bool   `json:"force_delete,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Validate checks the action-specific parameter requirements up front so a
// bad request never launches a task.
func (r *Request) Validate() (ActionKind, error) {
	if !domain.ValidMediaType(r.Model) {
		return "", &domain.FieldError{
			Field:   "model",
			Message: fmt.Sprintf("unknown model %q", r.Model),
		}
	}

	action, err := ParseAction(r.Action)
	if err != nil {
		return "", err
	}

	switch action {
	case ActionUpdateIndex:
		if r.SinceDate == "" {
			return "", &domain.FieldError{
				Field:   "since_date",
				Message: "since_date is required for UPDATE_INDEX",
			}
		}
	case ActionPointAlias, ActionPromote:
		if r.IndexSuffix == "" || r.Alias == "" {
			return "", &domain.FieldError{
				Field:   "index_suffix",
				Message: fmt.Sprintf("index_suffix and alias are required for %s", action),
			}
		}
	case ActionDeleteIndex:
		if (r.Alias == "") == (r.IndexSuffix == "") {
			return "", &domain.FieldError{
				Field:   "alias",
				Message: "exactly one of alias or index_suffix is required for DELETE_INDEX",
			}
		}
	case ActionReindex, ActionIngestUpstream:
	}
	return action, nil
}
