package texcache

// maxDarwinTextureLayers works around integrated GPU drivers on macOS that
// misbehave with texture arrays of more layers.
const maxDarwinTextureLayers = 32

func clampTextureLayers(n int) int {
	return min(n, maxDarwinTextureLayers)
}
