// Package testsupport provides shared helpers for tests: a temp-dir config
// builder and an in-process fake of the extraction backend.
package testsupport
