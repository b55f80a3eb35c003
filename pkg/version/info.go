package version

import "fmt"

// Injected at build time via -ldflags.
var (
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	OS         string
	Arch       string
)

// GetVersion returns the version string used for `pfetch version` and the User-Agent header.
func GetVersion() string {
	return makeVersionString(Version, CommitHash, Prerelease, OS, Arch)
}

func makeVersionString(version, commitHash, prerelease, os, arch string) string {
	if version == "" {
		version = "dev"
	}
	versionString := version
	if commitHash != "" {
		versionString = fmt.Sprintf("%s(%s)", versionString, commitHash)
	}
	if prerelease != "" {
		versionString = fmt.Sprintf("%s-%s", versionString, prerelease)
	}
	switch {
	case os != "" && arch != "":
		versionString = fmt.Sprintf("%s/%s-%s", versionString, os, arch)
	case os != "":
		versionString = fmt.Sprintf("%s/%s", versionString, os)
	}
	return versionString
}
