// Package remote implements classify.Model over an HTTP inference service.
//
// The service accepts POST <endpoint>/predict with one photo and, when batch
// mode is enabled, POST <endpoint>/predict/batch with a list. Responses carry
// the kind-specific result fields; unknown fields are ignored.
package remote
