// Package server answers discovery requests for the things that belong
// to this gateway's group.
package server

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"coffee-telemetry/internal/discovery"
)

var thingNameRE = regexp.MustCompile(`^[a-zA-Z0-9:_-]{1,128}$`)

type Config struct {
	GroupID      string
	CoreThingArn string
	Connectivity []discovery.Connectivity
	CAPEM        []byte
	// Things restricts which thing names are served. Empty serves all.
	Things []string
}

type Server struct {
	doc    discovery.Document
	things map[string]struct{}
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		doc: discovery.Document{Groups: []discovery.Group{{
			GroupID: cfg.GroupID,
			Cores: []discovery.Core{{
				ThingArn:     cfg.CoreThingArn,
				Connectivity: cfg.Connectivity,
			}},
			CAs: []string{string(cfg.CAPEM)},
		}}},
		log: log,
	}
	if len(cfg.Things) > 0 {
		s.things = make(map[string]struct{}, len(cfg.Things))
		for _, t := range cfg.Things {
			s.things[t] = struct{}{}
		}
	}
	return s
}

// Mount registers the discovery route on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/greengrass/discover/thing/{thing}", s.handleDiscover)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Mount(r)
	return r
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	thing := chi.URLParam(r, "thing")
	if !thingNameRE.MatchString(thing) {
		s.log.Warn("discovery rejected", zap.String("thing", thing), zap.String("reason", "invalid thing name"))
		writeError(w, http.StatusBadRequest, "invalid thing name")
		return
	}
	if s.things != nil {
		if _, ok := s.things[thing]; !ok {
			s.log.Warn("discovery rejected", zap.String("thing", thing), zap.String("reason", "not in group"))
			writeError(w, http.StatusNotFound, "thing is not associated with a group")
			return
		}
	}
	s.log.Info("discovery served", zap.String("thing", thing), zap.String("group_id", s.doc.Groups[0].GroupID))
	w.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(w).Encode(s.doc)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"errorMessage": msg})
}
