package delivery

import (
	"context"
	"fmt"
	"html"
)

// Media is the messaging form an artifact is sent in.
type Media string

const (
	MediaPhoto    Media = "photo"
	MediaVideo    Media = "video"
	MediaDocument Media = "document"
	MediaText     Media = "text"
)

// MediaFor maps a generation kind onto its delivery form.
func MediaFor(kind string) Media {
	switch kind {
	case "image":
		return MediaPhoto
	case "video":
		return MediaVideo
	case "music":
		return MediaDocument
	default:
		return MediaText
	}
}

type Delivery struct {
	JobID       string `json:"job_id"`
	Destination string `json:"destination"`
	ArtifactURL string `json:"artifact_url"`
	Kind        string `json:"kind"`
	Media       Media  `json:"media"`
	Caption     string `json:"caption,omitempty"`
}

// Sink sends finished artifacts and text notices to a messaging session.
// Retries, if any, are the sink's own concern.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
	Notify(ctx context.Context, destination, text string) error
}

// MaxErrorText bounds provider payloads echoed back to users.
const MaxErrorText = 3500

func Bounded(s string) string {
	r := []rune(s)
	if len(r) <= MaxErrorText {
		return s
	}
	return string(r[:MaxErrorText])
}

func kindIcon(kind string) string {
	switch kind {
	case "image":
		return "🖼"
	case "video":
		return "🎬"
	case "music":
		return "🎵"
	default:
		return "🧠"
	}
}

func AcceptedText(kind, jobID string) string {
	return fmt.Sprintf("%s Task accepted. ID: <code>%s</code>\nWaiting for the result…", kindIcon(kind), html.EscapeString(jobID))
}

func DoneCaption(kind string) string {
	if kind == "music" {
		return "✅ Done! (music)"
	}
	return "✅ Done!"
}

func FailureText(detail string) string {
	return fmt.Sprintf("❌ Generation failed: <pre>%s</pre>", html.EscapeString(Bounded(detail)))
}

func InvalidModelText(model string) string {
	return fmt.Sprintf("❌ Unknown model <code>%s</code>. Pick another one in /models.", html.EscapeString(model))
}

func TimeoutText() string {
	return "⌛ Did not get the result in time (timeout). Please try again."
}
