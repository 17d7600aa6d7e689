package handlers

import (
	"github.com/suPer8Hu/ai-creator/internal/catalog"
	"github.com/suPer8Hu/ai-creator/internal/credits"
	"github.com/suPer8Hu/ai-creator/internal/jobs"
)

type Handler struct {
	Jobs    *jobs.Orchestrator
	Ledger  *credits.Ledger
	Catalog *catalog.Catalog
}

func NewHandler(orch *jobs.Orchestrator, ledger *credits.Ledger, cat *catalog.Catalog) *Handler {
	return &Handler{Jobs: orch, Ledger: ledger, Catalog: cat}
}
