// Package daemon coordinates the long-running Photonix process.
//
// It wires configuration, the task and catalog stores, the classifier
// registry and the workflow dispatcher into a single lifecycle with
// flock-based locking to prevent multiple instances. Start refuses to run
// when preflight finds an unusable data, thumbnail or RAW cache directory.
//
// Keep orchestration logic here: stage and classifier work lives in their
// own packages while the daemon focuses on startup and shutdown.
package daemon
