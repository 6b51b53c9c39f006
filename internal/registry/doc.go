// Package registry owns the app-lifetime set of extraction-job sync sessions.
// Sessions survive screen navigation: minimize detaches the UI, dismiss is the
// single explicit teardown. One session exists per job id at any time.
package registry
