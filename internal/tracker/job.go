package tracker

import (
	"github.com/goccy/go-json"

	"killboard/internal/storage"
)

// Job is one unit of persistence work: match and store a single staged
// killmail for a single tracked organization. Sibling jobs for the same
// killmail fail and retry independently.
type Job struct {
	JobID      string          `json:"job_id"`
	KillmailID int64           `json:"killmail_id"`
	OrgType    storage.OrgType `json:"org_type"`
	OrgID      int64           `json:"org_id"`
}

// DecodeJob parses a queue payload.
func DecodeJob(payload []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(payload, &j)
	return j, err
}
