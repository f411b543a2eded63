package social

// NotificationKind names the kind of a [Notification].
type NotificationKind string

const (
	// TraitAdded fires after a trait has been inserted into its holder's set.
	TraitAdded NotificationKind = "trait_added"

	// TraitRemoved fires before a trait leaves its holder's set.
	TraitRemoved NotificationKind = "trait_removed"

	// StatChanged fires whenever a stat's effective value actually changes.
	StatChanged NotificationKind = "stat_changed"

	// RuleActivated fires when a rule becomes active on a relationship.
	RuleActivated NotificationKind = "rule_activated"

	// RuleDeactivated fires when a rule stops being active on a relationship.
	RuleDeactivated NotificationKind = "rule_deactivated"

	// TickCompleted fires once at the end of every [Engine.Tick].
	TickCompleted NotificationKind = "tick_completed"
)

// Notification is a (subject, payload) event delivered to listeners.
// Only the payload fields relevant to Kind are set.
type Notification struct {
	Kind NotificationKind

	// Subject is the entity ID or "owner->target" relationship ID. Empty for
	// TickCompleted.
	Subject string

	// Trait is set for TraitAdded and TraitRemoved.
	Trait string

	// Stat and Value are set for StatChanged.
	Stat  string
	Value float64

	// Rule is the rule ID for RuleActivated and RuleDeactivated.
	Rule string

	// Tick is the completed tick number for TickCompleted.
	Tick uint64

	// Expired counts the modifiers and traits that expired during the tick
	// for TickCompleted.
	Expired int
}

// Listener receives notifications synchronously, on the goroutine that
// triggered them. Listeners must not call back into the engine.
type Listener func(Notification)
