//go:build !darwin

package texcache

func clampTextureLayers(n int) int {
	return n
}
