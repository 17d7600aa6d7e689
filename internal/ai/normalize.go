package ai

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Containers are searched in this order: top level, then the nested result,
// resp_data and first data element.
var containers = []string{"", "result.", "resp_data.", "data.0."}

var idFields = []string{"request_id", "id", "task_id", "job_id", "operation_id"}

var urlFields = []string{"url", "output_url"}

// plural artifact fields, per kind
var kindArtifactFields = map[string][]string{
	"image": {"images.0"},
	"video": {"videos.0", "video_url"},
	"music": {"audio_url", "audios.0"},
}

var stateFields = []string{"status", "state", "phase"}

const textArtifactPrefix = "data:text/plain;charset=utf-8,"

// TextArtifact wraps a chat reply into a data URI so text results travel
// through the same artifact_url column as media.
func TextArtifact(text string) string {
	return textArtifactPrefix + url.PathEscape(text)
}

// ParseTextArtifact reverses TextArtifact.
func ParseTextArtifact(artifact string) (string, bool) {
	if !strings.HasPrefix(artifact, textArtifactPrefix) {
		return "", false
	}
	text, err := url.PathUnescape(strings.TrimPrefix(artifact, textArtifactPrefix))
	if err != nil {
		return "", false
	}
	return text, true
}

// ExtractID returns the first provider identifier found.
func ExtractID(raw []byte) string {
	for _, c := range containers {
		for _, f := range idFields {
			v := gjson.GetBytes(raw, c+f)
			switch v.Type {
			case gjson.String:
				if s := strings.TrimSpace(v.Str); s != "" {
					return s
				}
			case gjson.Number:
				return v.Raw
			}
		}
	}
	return ""
}

// ExtractArtifact returns the first artifact location found for kind.
func ExtractArtifact(kind string, raw []byte) string {
	if kind == "chat" {
		if content := gjson.GetBytes(raw, "choices.0.message.content"); content.Type == gjson.String && content.Str != "" {
			return TextArtifact(content.Str)
		}
	}
	fields := append(append([]string(nil), urlFields...), kindArtifactFields[kind]...)
	for _, c := range containers {
		for _, f := range fields {
			if u := artifactValue(gjson.GetBytes(raw, c+f)); u != "" {
				return u
			}
		}
	}
	return ""
}

func artifactValue(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return strings.TrimSpace(v.Str)
	case v.IsObject():
		if u := v.Get("url"); u.Type == gjson.String {
			return strings.TrimSpace(u.Str)
		}
	}
	return ""
}

// ExtractState returns the lower-cased provider status word, if any.
func ExtractState(raw []byte) string {
	for _, c := range containers {
		for _, f := range stateFields {
			v := gjson.GetBytes(raw, c+f)
			if v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
				return strings.ToLower(strings.TrimSpace(v.Str))
			}
		}
	}
	return ""
}

// ClassifyState maps a status payload onto the canonical State. A resolved
// artifact wins over any status word.
func ClassifyState(kind string, raw []byte) (State, string) {
	if u := ExtractArtifact(kind, raw); u != "" {
		return StateSucceeded, u
	}
	st := ExtractState(raw)
	if strings.Contains(st, "fail") || strings.Contains(st, "error") {
		return StateFailed, ""
	}
	return StateRunning, ""
}

// InvalidModel reports the provider's {"error":{"code":"invalid_model"}} answer.
func InvalidModel(raw []byte) bool {
	return gjson.GetBytes(raw, "error.code").String() == "invalid_model"
}

// ParseSubmit normalizes a 2xx submission body. It fails closed: a body with
// neither identifier nor artifact is a protocol error carrying the payload.
func ParseSubmit(kind string, raw []byte) (*SubmitResult, error) {
	if InvalidModel(raw) {
		return nil, &ProviderError{
			Err:     ErrInvalidModel,
			Op:      "submit",
			Code:    "invalid_model",
			Message: gjson.GetBytes(raw, "error.message").String(),
			Raw:     raw,
		}
	}
	if !gjson.ValidBytes(raw) {
		return nil, &ProviderError{Err: ErrProtocol, Op: "submit", Message: "response is not json", Raw: raw}
	}
	res := &SubmitResult{
		ExternalID:  ExtractID(raw),
		ArtifactURL: ExtractArtifact(kind, raw),
		Raw:         raw,
	}
	if res.ExternalID == "" && res.ArtifactURL == "" {
		return nil, &ProviderError{
			Err:     ErrProtocol,
			Op:      "submit",
			Code:    gjson.GetBytes(raw, "error.code").String(),
			Message: "no identifier or artifact in response",
			Raw:     raw,
		}
	}
	return res, nil
}

// ParseStatus normalizes a 2xx status body.
func ParseStatus(kind string, raw []byte) (*StatusResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ProviderError{Err: ErrProtocol, Op: "status", Message: "response is not json", Raw: raw}
	}
	state, artifact := ClassifyState(kind, raw)
	return &StatusResult{State: state, ArtifactURL: artifact, Raw: raw}, nil
}
