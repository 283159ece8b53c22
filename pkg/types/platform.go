package types

// DefaultPlatform is used for architectures the grid does not recognise, so
// unusual nodes still receive a usable image.
const DefaultPlatform = "linux/amd64"

// PlatformFor maps a node architecture to the platform string used for image
// selection. Hub and node share this mapping.
func PlatformFor(architecture string) string {
	switch architecture {
	case "x86_64", "amd64":
		return "linux/amd64"
	case "aarch64", "arm64":
		return "linux/arm64"
	case "arm", "armv7l":
		return "linux/arm/v7"
	default:
		return DefaultPlatform
	}
}
