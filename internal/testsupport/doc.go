// Package testsupport provides shared helpers for package tests: temp-dir
// configs, opened stores with cleanup, and catalog fixtures backed by real
// JPEG files.
package testsupport
