package security

// Limits defines boundaries for reading artifacts back before a merge.
type Limits struct {
	// Maximum artifact file size in bytes. Default: 64 MB.
	MaxArtifactSize int64

	// Maximum string length (bytes). Default: 10 MB.
	MaxStringLength int64

	// Maximum array/dictionary nesting depth. Default: 64.
	MaxDepth int
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxArtifactSize: 64 * 1024 * 1024,
		MaxStringLength: 10 * 1024 * 1024,
		MaxDepth:        64,
	}
}
