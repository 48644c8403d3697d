// Package builtin provides the in-process classifier models: a named-colour
// histogram and a calendar event model. Neither needs network access or model
// weights.
package builtin
