package eventbus

// Name is one of the stable, dot-delimited event names defined in spec §6.
// Keeping them as a typed enum (rather than bare strings scattered through
// the codebase) is the one central place that needs updating if a new
// event is introduced.
type Name string

const (
	PlatformHealthUpdated     Name = "platform.health.updated"
	PlatformHealthDegraded    Name = "platform.health.degraded"
	PlatformHealthRecovered   Name = "platform.health.recovered"
	PlatformHealthDisconnected Name = "platform.health.disconnected"

	DegradationActivated   Name = "degradation.activated"
	DegradationDeactivated Name = "degradation.deactivated"

	OrderFilled Name = "order.filled"

	ExecutionFailed                   Name = "execution.failed"
	ExecutionSingleLegExposure        Name = "execution.single_leg.exposure"
	ExecutionSingleLegExposureReminder Name = "execution.single_leg.exposure_reminder"
	ExecutionSingleLegResolved        Name = "execution.single_leg.resolved"
	ExecutionExitTriggered            Name = "execution.exit.triggered"

	LimitApproached Name = "limit.approached"
	LimitBreached   Name = "limit.breached"

	ReconciliationDiscrepancy Name = "reconciliation.discrepancy"
	ReconciliationComplete    Name = "reconciliation.complete"
)
