package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/and161185/event-ledger/internal/convert"
	"github.com/and161185/event-ledger/internal/errs"
	"github.com/and161185/event-ledger/internal/service"
)

// --- Pages ---

func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	var req convert.CreatePageRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.pages.Create(r.Context(), uid(r), service.CreatePageInput{
		Slug:        req.Slug,
		Title:       req.Title,
		Description: req.Description,
		Visibility:  req.Visibility,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPage(*p))
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	p, err := s.pages.Get(r.Context(), uid(r), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPage(*p))
}

func (s *Server) updatePage(w http.ResponseWriter, r *http.Request) {
	var req convert.UpdatePageRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.pages.Update(r.Context(), uid(r), chi.URLParam(r, "slug"), req.ToPatch())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPage(*p))
}

func (s *Server) softDeletePage(w http.ResponseWriter, r *http.Request) {
	p, res, err := s.lifecycle.SoftDelete(r.Context(), uid(r), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.PageWithBulk{Page: convert.ToPage(*p), Memories: convert.ToBulk(res)})
}

func (s *Server) restorePage(w http.ResponseWriter, r *http.Request) {
	p, res, err := s.lifecycle.Restore(r.Context(), uid(r), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.PageWithBulk{Page: convert.ToPage(*p), Memories: convert.ToBulk(res)})
}

func (s *Server) removeOwner(w http.ResponseWriter, r *http.Request) {
	p, err := s.pages.RemoveOwner(r.Context(), uid(r), chi.URLParam(r, "slug"), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPage(*p))
}

// --- Memories ---

func (s *Server) listMemories(w http.ResponseWriter, r *http.Request) {
	includeExpired := false
	if v := r.URL.Query().Get("include_expired"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: include_expired must be a boolean", errs.ErrValidation))
			return
		}
		includeExpired = b
	}
	ms, err := s.memories.List(r.Context(), uid(r), chi.URLParam(r, "slug"), includeExpired)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToMemories(ms))
}

func (s *Server) saveMemory(w http.ResponseWriter, r *http.Request) {
	var req convert.SaveMemoryRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.memories.Save(r.Context(), uid(r), chi.URLParam(r, "slug"), req.ToMemory())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToMemory(*m))
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	err := s.memories.Delete(r.Context(), uid(r), chi.URLParam(r, "slug"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Invites ---

func (s *Server) createInvite(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invites.Create(r.Context(), uid(r), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToInvite(*inv))
}

func (s *Server) acceptInvite(w http.ResponseWriter, r *http.Request) {
	p, err := s.invites.Accept(r.Context(), uid(r), chi.URLParam(r, "id"), clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPage(*p))
}

// --- Users ---

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Me(r.Context(), uid(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToUser(*u))
}

func (s *Server) myPages(w http.ResponseWriter, r *http.Request) {
	ps, err := s.pages.ListForUser(r.Context(), uid(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToPages(ps))
}
