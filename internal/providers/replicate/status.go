package replicate

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tiagomennab/ensaio-fotos-sub002/internal/domain"
)

// Provider status vocabulary.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// MapStatus translates a provider status into the internal enum. ok is false
// for anything outside the documented vocabulary, which callers must treat
// as a no-op.
func MapStatus(status string) (domain.JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusStarting, StatusProcessing:
		return domain.JobStatusProcessing, true
	case StatusSucceeded:
		return domain.JobStatusCompleted, true
	case StatusFailed:
		return domain.JobStatusFailed, true
	case StatusCanceled:
		return domain.JobStatusCancelled, true
	}
	return "", false
}

// NormalizeOutput flattens the output shapes the provider has used over time
// into an ordered list of URLs: a bare string, an array of strings (null and
// blank entries skipped) or an object with "images". Other object fields are
// metadata and never treated as URLs.
func NormalizeOutput(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return appendURL(nil, single)
	}

	var list []*string
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			if item != nil {
				out = appendURL(out, *item)
			}
		}
		return out
	}

	var obj struct {
		Images []*string `json:"images"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		var out []string
		for _, item := range obj.Images {
			if item != nil {
				out = appendURL(out, *item)
			}
		}
		return out
	}
	return nil
}

// NormalizeTrainingOutput reads a training result: the "weights" URL followed
// by the trained "version" reference. Trainings that answer with one of the
// image shapes fall back to NormalizeOutput.
func NormalizeTrainingOutput(raw json.RawMessage) []string {
	var obj struct {
		Weights string `json:"weights"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &obj); err == nil {
		out := appendURL(nil, obj.Weights)
		out = appendURL(out, obj.Version)
		if len(out) > 0 {
			return out
		}
	}
	return NormalizeOutput(raw)
}

func appendURL(out []string, v string) []string {
	if v = strings.TrimSpace(v); v != "" {
		return append(out, v)
	}
	return out
}
