package models

import (
	"encoding/json"
	"time"
)

// Profile is the structured digital dossier generated for an account from
// its recent enriched posts. Document holds the model's JSON verbatim.
type Profile struct {
	AccountID   int64
	Document    json.RawMessage
	GeneratedAt time.Time
}
