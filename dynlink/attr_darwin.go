//go:build darwin && (amd64 || arm64)

package dynlink

// dyld answers dladdr for every image it maps, so there is no secondary
// attribution source on darwin.
func sourceFromMaps(addr uintptr) string {
	_ = addr
	return ""
}
