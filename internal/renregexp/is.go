package renregexp

func IsKeyName(name string) bool {
	return KeyName.MatchString(name)
}

func IsAPK(name string) bool {
	return APK.MatchString(name)
}
