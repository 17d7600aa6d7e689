package jobs

import (
	"strings"
	"time"

	"github.com/suPer8Hu/ai-creator/internal/config"
)

type Kind string

const (
	KindChat  Kind = "chat"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindMusic Kind = "music"
)

// KindConfig is the per-kind polling and validation record.
type KindConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	DefaultModel string
	// request payload keys that must be non-empty strings
	Required []string
}

type Kinds map[Kind]KindConfig

func DefaultKinds() Kinds {
	return Kinds{
		KindChat:  {PollInterval: 2 * time.Second, Timeout: 2 * time.Minute, Required: []string{"prompt"}},
		KindImage: {PollInterval: 5 * time.Second, Timeout: 15 * time.Minute, Required: []string{"prompt"}},
		KindVideo: {PollInterval: 7 * time.Second, Timeout: 30 * time.Minute, Required: []string{"prompt"}},
		KindMusic: {PollInterval: 8 * time.Second, Timeout: 35 * time.Minute, Required: []string{"lyrics"}},
	}
}

// KindsFromConfig merges the POLL_* overrides and default models over the
// built-in table.
func KindsFromConfig(cfg config.Config) Kinds {
	kinds := DefaultKinds()
	models := map[Kind]string{
		KindChat:  cfg.ChatModel,
		KindImage: cfg.ImageModel,
		KindVideo: cfg.VideoModel,
		KindMusic: cfg.SongModel,
	}
	for kind, kc := range kinds {
		if ps, ok := cfg.Poll[string(kind)]; ok {
			if ps.Interval > 0 {
				kc.PollInterval = ps.Interval
			}
			if ps.Timeout > 0 {
				kc.Timeout = ps.Timeout
			}
		}
		if m := models[kind]; m != "" {
			kc.DefaultModel = m
		}
		kinds[kind] = kc
	}
	return kinds
}

func (k Kinds) Lookup(kind Kind) (KindConfig, bool) {
	kc, ok := k[kind]
	return kc, ok
}

// ParseKind normalizes user input; "song" and "llm" are accepted aliases.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "song", "songs":
		return KindMusic
	case "llm", "text":
		return KindChat
	}
	return Kind(strings.TrimSuffix(s, "s"))
}
