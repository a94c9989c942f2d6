package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultBusinessLimit = 100
	maxBusinessLimit     = 1000
)

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status(s.clock.Now()))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CrawlerStatistics(r.Context(), s.clock.Now())
	if err != nil {
		s.logger.Error("crawler statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) start(w http.ResponseWriter, _ *http.Request) {
	started := s.sched.Start(s.baseCtx)
	writeJSON(w, http.StatusOK, map[string]bool{"running": true, "changed": started})
}

func (s *Server) stop(w http.ResponseWriter, _ *http.Request) {
	stopped := s.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false, "changed": stopped})
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	targets := s.sched.List()
	views := make([]crawler.TargetView, 0, len(targets))
	for _, t := range targets {
		views = append(views, crawler.SpecFromTarget(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": views})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := s.sched.Get(name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, crawler.SpecFromTarget(target))
}

func (s *Server) addTarget(w http.ResponseWriter, r *http.Request) {
	var spec crawler.TargetSpec
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, err := spec.Build()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.sched.Add(target); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, crawler.SpecFromTarget(target))
}

func (s *Server) removeTarget(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sched.Remove(name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runTarget(w http.ResponseWriter, r *http.Request) {
	name, err := targetName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.sched.RunOne(s.baseCtx, name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := crawler.BusinessFilter{
		TargetName: strings.TrimSpace(q.Get("target")),
		Region:     strings.TrimSpace(q.Get("region")),
		Sector:     strings.TrimSpace(q.Get("sector")),
		Limit:      limit,
	}
	records, err := s.store.ListBusinesses(r.Context(), filter)
	if err != nil {
		s.logger.Error("list businesses failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list businesses")
		return
	}
	if records == nil {
		records = []crawler.BusinessRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"businesses": records})
}

func targetName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		return "", fmt.Errorf("invalid target name")
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("target name is required")
	}
	return name, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultBusinessLimit, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxBusinessLimit), nil
}
