package domain

// TriggerEvent is the payload carried on the job_ready channel whenever a
// job is inserted or reset to pending. The poll fallback emits the same
// shape with only TenantID set.
type TriggerEvent struct {
	JobID        string `json:"job_id"`
	TenantID     string `json:"tenant"`
	Marketplace  string `json:"marketplace"`
	ActionTypeID int    `json:"action_type_id"`
	Priority     int    `json:"priority"`
}

// TriggerChannel is the Postgres NOTIFY channel name.
const TriggerChannel = "job_ready"
