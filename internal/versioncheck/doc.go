// Package versioncheck notifies when a newer Tasmota firmware release is
// published.
//
// A Checker periodically asks a Source for the latest release tag, parses
// it as vMAJOR.MINOR.REVISION and compares it numerically against the last
// version kept in a Store. The first version ever seen is only recorded.
// A strictly newer version fires the new_tasmota_version trigger and then
// replaces the stored one.
package versioncheck
