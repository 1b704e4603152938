package enum

// Platform identifies an upstream rating platform.
// Values are stored verbatim in the platform_name column.
type Platform string

const (
	// PlatformLeetCode tracks LeetCode contest rating and solved counts.
	PlatformLeetCode Platform = "leetcode"
	// PlatformCodeforces tracks Codeforces rating and max rating.
	PlatformCodeforces Platform = "codeforces"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformLeetCode, PlatformCodeforces}
}

// IsValid reports whether p is one of the supported platforms.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformLeetCode, PlatformCodeforces:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	return string(p)
}
