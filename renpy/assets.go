package renpy

import (
	"fmt"
	"path"
	"strings"
)

// Ren'Py's Android build renames every game file under the assets root,
// prefixing each path segment with a marker so that the Android build
// tools neither compress nor otherwise interpret them. The functions here
// translate between the packaged form and the plain form the engine reads,
// e.g. assets/x-game/x-images/x-bg.png <-> game/images/bg.png.
const (
	AssetsRoot   = "assets"
	MarkerPrefix = "x-"
)

// IsMarkedAsset reports whether the container entry name refers to a
// renamed game file, that is, one under the assets root with at least
// one marked segment.
func IsMarkedAsset(name string) bool {
	segments := split(name)
	if len(segments) < 2 || segments[0] != AssetsRoot {
		return false
	}

	for _, segment := range segments[1:] {
		if strings.HasPrefix(segment, MarkerPrefix) {
			return true
		}
	}

	return false
}

// NormalizeAssetPath strips the assets root and the marker prefix from
// every segment that carries one, leaving unmarked segments untouched.
// The result is the path the game file is staged at. A segment that is
// nothing but the marker is rejected, as it would normalize to an empty
// segment.
func NormalizeAssetPath(name string) (string, error) {
	segments := split(name)
	if len(segments) < 2 || segments[0] != AssetsRoot {
		return "", fmt.Errorf("not a packaged asset path: %s", name)
	}

	normalized := make([]string, 0, len(segments)-1)

	for _, segment := range segments[1:] {
		stripped := strings.TrimPrefix(segment, MarkerPrefix)
		if stripped == "" {
			return "", fmt.Errorf("marker-only segment in asset path: %s", name)
		}

		normalized = append(normalized, stripped)
	}

	return path.Join(normalized...), nil
}

// RestoreAssetPath prefixes every segment of the given normalized path
// with the marker and roots it under the assets root. It is the inverse
// of NormalizeAssetPath for paths whose segments are all marked.
func RestoreAssetPath(name string) string {
	segments := split(name)
	restored := make([]string, 0, len(segments)+1)
	restored = append(restored, AssetsRoot)

	for _, segment := range segments {
		restored = append(restored, MarkerPrefix+segment)
	}

	return path.Join(restored...)
}

func split(name string) []string {
	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" {
		return nil
	}

	return strings.Split(name, "/")
}
