package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/averbadrop/internal/apperr"
	"github.com/dharsanguruparan/averbadrop/internal/model"
	"github.com/dharsanguruparan/averbadrop/internal/uploads"
)

const maxBodyBytes = 1 << 20

type completeBody struct {
	Key            string         `json:"key"`
	Metadata       map[string]any `json:"metadata"`
	ParentEntityID *int64         `json:"parentEntityId"`
	ParentType     string         `json:"parentType"`
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var body uploads.PrepareRequest
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.PreparePut(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req := uploads.CompleteRequest{Key: body.Key, Metadata: body.Metadata}
	if body.ParentEntityID != nil {
		if *body.ParentEntityID <= 0 {
			s.fail(w, r, apperr.Validation("parentEntityId must be positive"))
			return
		}
		req.Parent = &model.ParentRef{ID: *body.ParentEntityID, Type: strings.TrimSpace(body.ParentType)}
	}
	res, err := s.svc.CompleteUpload(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := parseID("parentEntityId", q.Get("parentEntityId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	exclude := false
	if v := q.Get("excludeDeleted"); v != "" {
		if exclude, err = strconv.ParseBool(v); err != nil {
			s.fail(w, r, apperr.Validation("excludeDeleted must be a boolean"))
			return
		}
	}
	s.list(w, r, uploads.ListRequest{
		Parent:         model.ParentRef{ID: id, Type: q.Get("parentType")},
		ExcludeDeleted: exclude,
	})
}

func (s *Server) handleParentUploads(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("parentId", chi.URLParam(r, "parentId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	exclude, _ := strconv.ParseBool(r.URL.Query().Get("excludeDeleted"))
	s.list(w, r, uploads.ListRequest{
		Parent:         model.ParentRef{ID: id, Type: chi.URLParam(r, "parentType")},
		ExcludeDeleted: exclude,
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, req uploads.ListRequest) {
	list, err := s.svc.ListUploads(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, list)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID("id", chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.svc.DeleteUpload(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, res)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func parseID(name, raw string) (int64, error) {
	if raw == "" {
		return 0, apperr.Validation("%s is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("%s must be a positive integer", name)
	}
	return id, nil
}
