// Package logg holds the zap field names shared by every layer.
package logg

const (
	Layer     = "layer"
	Operation = "op"
	CommandID = "command_id"
	Action    = "action"
	Selector  = "selector"
	Ref       = "ref"
	URL       = "url"
	Step      = "step"
	State     = "state"
	Strategy  = "strategy"
	Provider  = "provider"
)
