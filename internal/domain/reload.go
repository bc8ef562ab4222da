package domain

// ReloadSummary reports the outcome of applying a new configuration to a
// running composer.
type ReloadSummary struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
}
