package freight_api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BarnabyWild/logistack-sub000/internal/apperr"
	"github.com/BarnabyWild/logistack-sub000/internal/models"
	"github.com/BarnabyWild/logistack-sub000/internal/services/lifecycle"
)

type createLoadRequest struct {
	Origin       string  `json:"origin"`
	Destination  string  `json:"destination"`
	Weight       float64 `json:"weight"`
	Price        float64 `json:"price"`
	PickupDate   string  `json:"pickupDate"`
	DeliveryDate string  `json:"deliveryDate"`
}

type assignRequest struct {
	CarrierID string `json:"carrierId"`
	Note      string `json:"note"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type noteRequest struct {
	Note string `json:"note"`
}

func (a *FreightAPI) createLoad(w http.ResponseWriter, r *http.Request) {
	var req createLoadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := models.LoadCreateInput{
		Origin:      req.Origin,
		Destination: req.Destination,
		Weight:      req.Weight,
		Price:       req.Price,
	}
	if strings.TrimSpace(req.PickupDate) != "" {
		d, err := parseDate("pickupDate", req.PickupDate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.PickupDate = d
	}
	delivery, err := optionalDate("deliveryDate", req.DeliveryDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.DeliveryDate = delivery

	l, err := a.engine.Create(r.Context(), actor(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, l)
}

func (a *FreightAPI) listLoads(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := a.engine.List(r.Context(), actor(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

func parseListQuery(r *http.Request) (lifecycle.ListQuery, error) {
	v := r.URL.Query()
	q := lifecycle.ListQuery{
		Origin:      v.Get("origin"),
		Destination: v.Get("destination"),
		CarrierID:   strings.TrimSpace(v.Get("carrierId")),
		ShipperID:   strings.TrimSpace(v.Get("shipperId")),
	}

	for _, raw := range strings.Split(v.Get("status"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		st, ok := models.ParseLoadStatus(raw)
		if !ok {
			return q, apperr.Validation("status", "unknown status %q", strings.TrimSpace(raw))
		}
		q.Statuses = append(q.Statuses, st)
	}

	var err error
	if q.PickupFrom, err = optionalDate("pickupFrom", v.Get("pickupFrom")); err != nil {
		return q, err
	}
	if q.PickupTo, err = optionalDate("pickupTo", v.Get("pickupTo")); err != nil {
		return q, err
	}
	if q.DeliveryFrom, err = optionalDate("deliveryFrom", v.Get("deliveryFrom")); err != nil {
		return q, err
	}
	if q.DeliveryTo, err = optionalDate("deliveryTo", v.Get("deliveryTo")); err != nil {
		return q, err
	}
	if q.Page, err = queryInt(r, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = queryInt(r, "pageSize"); err != nil {
		return q, err
	}
	return q, nil
}

func (a *FreightAPI) getLoad(w http.ResponseWriter, r *http.Request) {
	l, err := a.engine.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (a *FreightAPI) assignLoad(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	carrierID := strings.TrimSpace(req.CarrierID)
	if carrierID == "" {
		writeError(w, r, apperr.Validation("carrierId", "is required"))
		return
	}
	l, err := a.engine.Assign(r.Context(), actor(r), chi.URLParam(r, "id"), carrierID, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (a *FreightAPI) transitionLoad(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to, ok := models.ParseLoadStatus(req.Status)
	if !ok {
		writeError(w, r, apperr.Validation("status", "unknown status %q", req.Status))
		return
	}
	l, err := a.engine.Transition(r.Context(), actor(r), chi.URLParam(r, "id"), to, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (a *FreightAPI) cancelLoad(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	// Тело необязательно: пустой POST отменяет без комментария.
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.engine.Cancel(r.Context(), actor(r), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (a *FreightAPI) loadHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := a.engine.History(r.Context(), actor(r), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"items": entries})
}
