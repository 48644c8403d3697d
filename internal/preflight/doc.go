// Package preflight provides readiness checks for the filesystem paths and
// remote classifiers Photonix depends on.
//
// The daemon runs RunAll before it starts the dispatcher and refuses to start
// when a required directory is unusable. The CLI "photonix status" command
// prints the same results alongside the external binary checks from
// CheckSystemDeps.
//
// Remote classifier checks are gated by the classifier's enabled flag and
// endpoint; built-in classifiers need no probe.
package preflight
