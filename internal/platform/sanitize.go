package platform

import "github.com/tidwall/sjson"

// noisePaths are payload fields that bloat logs and carry nothing the
// review pipeline reads: avatar/link blobs and the embedded repo objects.
var noisePaths = []string{
	"user.avatar_url",
	"author.avatar_url",
	"head.repo",
	"base.repo",
	"_links",
	"links",
}

// stripNoise removes noisy fields from a raw API payload before probing
// and debug logging. Failures are ignored: a path that does not exist in
// the payload is simply left alone.
func stripNoise(raw []byte) []byte {
	out := raw
	for _, path := range noisePaths {
		if cleaned, err := sjson.DeleteBytes(out, path); err == nil {
			out = cleaned
		}
	}
	return out
}
