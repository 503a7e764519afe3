package versions

import "github.com/Masterminds/semver/v3"

// IsDowngrade reports whether running is an older release than recorded, the
// adapter version stored with a watermark. Versions that are not valid semver
// (dev builds, empty strings) are never considered a downgrade.
func IsDowngrade(running, recorded string) bool {
	runningSemver, errRunning := semver.NewVersion(running)
	recordedSemver, errRecorded := semver.NewVersion(recorded)
	if errRunning != nil || errRecorded != nil {
		return false
	}
	return recordedSemver.GreaterThan(runningSemver)
}
