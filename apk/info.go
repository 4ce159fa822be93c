package apk

import (
	"fmt"

	binapk "github.com/shogo82148/androidbinary/apk"
)

// Info identifies the application a container carries.
type Info struct {
	PackageID   string `json:"packageId"`
	VersionName string `json:"versionName,omitempty"`
	VersionCode int32  `json:"versionCode,omitempty"`
	Label       string `json:"label,omitempty"`
}

// ReadInfo parses the container's binary manifest. Everything but the
// package id is best effort, as resource resolution varies by build
// tooling.
func ReadInfo(name string) (*Info, error) {
	pkg, err := binapk.OpenFile(name)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	defer pkg.Close()

	manifest := pkg.Manifest()

	packageID, err := manifest.Package.String()
	if err != nil {
		return nil, fmt.Errorf("read package id: %w", err)
	}

	info := &Info{
		PackageID: packageID,
	}

	if versionName, err := manifest.VersionName.String(); err == nil {
		info.VersionName = versionName
	}

	if versionCode, err := manifest.VersionCode.Int32(); err == nil {
		info.VersionCode = versionCode
	}

	if label, err := pkg.Label(nil); err == nil {
		info.Label = label
	}

	return info, nil
}
