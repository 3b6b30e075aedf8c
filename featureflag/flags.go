package featureflag

type Flag string

const (
	// Every reset skips the partition tree and draws all the instances.
	FlagDisableCulling Flag = "DISABLE_CULLING"

	// The visible set is recomputed every frame, even when the camera did not
	// move.
	FlagDisableVisibilityCache Flag = "DISABLE_VISIBILITY_CACHE"

	FlagDisableShadows Flag = "DISABLE_SHADOWS"
)
