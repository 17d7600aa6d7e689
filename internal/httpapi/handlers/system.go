package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-creator/internal/common"
	"github.com/suPer8Hu/ai-creator/internal/jobs"
)

func (h *Handler) Health(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok", "active_pollers": h.Jobs.Active()})
}

// Models feeds the Mini App model picker.
func (h *Handler) Models(c *gin.Context) {
	kinds := h.Jobs.Kinds()
	defaults := gin.H{}
	for _, k := range []jobs.Kind{jobs.KindChat, jobs.KindImage, jobs.KindVideo, jobs.KindMusic} {
		if kc, ok := kinds.Lookup(k); ok {
			defaults[string(k)+"_model"] = kc.DefaultModel
		}
	}
	common.OK(c, gin.H{
		"models":   h.Catalog.Models(),
		"grouped":  h.Catalog.Grouped(),
		"defaults": defaults,
	})
}
