package renregexp

import "regexp"

var (
	KeyName = regexp.MustCompile("^[a-zA-Z0-9-_]{1,32}$")

	APK = regexp.MustCompile(`(?i)^[\w/.-]+\.apk$`)
)
