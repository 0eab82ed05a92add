// Package handler implements the narrow, actor-authenticated service
// operations exposed to customers, providers, and admins: the surface
// through which every other package in this module is driven. It never
// grows into a generic REST CRUD layer — each method corresponds to
// exactly one named operation.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/assignment"
	"github.com/fielddispatch/gateway/internal/cache"
	"github.com/fielddispatch/gateway/internal/catalog"
	"github.com/fielddispatch/gateway/internal/config"
	"github.com/fielddispatch/gateway/internal/eventbus"
	"github.com/fielddispatch/gateway/internal/lifecycle"
	"github.com/fielddispatch/gateway/internal/pricing"
	"github.com/fielddispatch/gateway/internal/providermatch"
	"github.com/fielddispatch/gateway/internal/realtime"
	"github.com/fielddispatch/gateway/internal/scoring"
	"github.com/fielddispatch/gateway/internal/store"
)

// Handler bundles every domain collaborator the exposed operations wire
// together. Constructed once at startup and shared across requests; it
// carries no per-request state.
type Handler struct {
	Store      *store.Store
	Cache      *cache.Client
	Bus        *eventbus.Bus
	Catalog    *catalog.Catalog
	Pricing    *pricing.Engine
	Qualifier  *providermatch.Qualifier
	Lifecycle  *lifecycle.Machine
	Assignment *assignment.Coordinator
	Scoring    *scoring.Ledger
	Hub        *realtime.Hub
	Cfg        *config.Config
	Logger     zerolog.Logger
}

// New builds a Handler from its collaborators.
func New(
	st *store.Store,
	ch *cache.Client,
	bus *eventbus.Bus,
	cat *catalog.Catalog,
	pr *pricing.Engine,
	qual *providermatch.Qualifier,
	lc *lifecycle.Machine,
	asg *assignment.Coordinator,
	sc *scoring.Ledger,
	hub *realtime.Hub,
	cfg *config.Config,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		Store: st, Cache: ch, Bus: bus, Catalog: cat, Pricing: pr, Qualifier: qual,
		Lifecycle: lc, Assignment: asg, Scoring: sc, Hub: hub, Cfg: cfg, Logger: logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
