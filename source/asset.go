package source

import "strings"

// Upstream feeds disagree on how they spell the native asset: "native",
// "ton", a "jetton:<address>" tag, or an object with an empty address.
// These helpers fold the variants into one shape.

// isNativeAsset reports whether an upstream asset tag means native TON.
func isNativeAsset(asset string) bool {
	a := strings.ToLower(strings.TrimSpace(asset))
	return a == "" || a == "native" || a == "ton"
}

// normalizeAssetAddr strips source-specific tagging from a jetton address.
func normalizeAssetAddr(asset string) string {
	a := strings.TrimSpace(asset)
	if isNativeAsset(a) {
		return ""
	}
	a = strings.TrimPrefix(a, "jetton:")
	return a
}
