package domain

// ActionType is one row of the shared, read-only marketplace x action
// catalog. Jobs reference it for their defaults.
type ActionType struct {
	ID          int
	Marketplace string
	Code        string
	Priority    int
	IsBatch     bool
	RateLimitMs int
	MaxRetries  int
	TimeoutSec  int
}

// ActionKey identifies a handler: one marketplace, one action code.
type ActionKey struct {
	Marketplace string
	Code        string
}

func (a ActionType) Key() ActionKey { return ActionKey{a.Marketplace, a.Code} }

// Catalog is the in-memory view of the action-type table, loaded once at
// startup.
type Catalog map[ActionKey]ActionType

func (c Catalog) ByID(id int) (ActionType, bool) {
	for _, at := range c {
		if at.ID == id {
			return at, true
		}
	}
	return ActionType{}, false
}
