package animation

// Scene coordinate limits. The runtime checker clips at the frame edge; the
// deterministic fixer clamps explicit placements to a tighter safe band so
// fixed objects land fully on screen.
const (
	ScreenXLimit = 7.1
	ScreenYLimit = 4.0

	SafeXLimit = 5.5
	SafeYLimit = 3.0

	// GroupFitWidth is the width groups are squeezed to on overflow.
	GroupFitWidth = 12.0
)

// Defaults for the refinement loop.
const (
	DefaultMaxRefineAttempts = 3
	DefaultMaxCleanRetries   = 2
	DefaultTemperatureBase   = 0.4
	DefaultTemperatureStep   = 0.3
	MaxTemperature           = 2.0
	MaxTemperatureStep       = 0.5

	// MinWaitSeconds replaces zero/negative waits the runtime rejects.
	MinWaitSeconds = 0.10
)
