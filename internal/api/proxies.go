package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/bizregistry-scraper/internal/proxypool"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

type proxyResponse struct {
	Proxy scraper.ProxyServer  `json:"proxy"`
	Test  proxypool.TestResult `json:"test"`
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	filter := scraper.ProxyFilter{Status: scraper.ProxyStatus(r.URL.Query().Get("status"))}
	switch filter.Status {
	case "", scraper.ProxyStatusTesting, scraper.ProxyStatusActive,
		scraper.ProxyStatusBlocked, scraper.ProxyStatusInactive:
	default:
		s.fail(w, r, "list proxies", scraper.Validationf("unknown status %q", filter.Status))
		return
	}
	proxies, err := s.proxies.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, "list proxies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxies": proxies})
}

func (s *Server) addProxy(w http.ResponseWriter, r *http.Request) {
	var req proxypool.AddRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "add proxy", err)
		return
	}
	proxy, result, err := s.proxies.Add(r.Context(), req)
	if err != nil {
		s.fail(w, r, "add proxy", err)
		return
	}
	writeJSON(w, http.StatusCreated, proxyResponse{Proxy: proxy, Test: result})
}

func (s *Server) testProxy(w http.ResponseWriter, r *http.Request) {
	proxy, result, err := s.proxies.Test(r.Context(), chi.URLParam(r, "proxy_id"))
	if err != nil {
		s.fail(w, r, "test proxy", err)
		return
	}
	writeJSON(w, http.StatusOK, proxyResponse{Proxy: proxy, Test: result})
}

func (s *Server) updateProxy(w http.ResponseWriter, r *http.Request) {
	var req proxypool.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "update proxy", err)
		return
	}
	proxy, err := s.proxies.Update(r.Context(), chi.URLParam(r, "proxy_id"), req)
	if err != nil {
		s.fail(w, r, "update proxy", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxy": proxy})
}

func (s *Server) deleteProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.proxies.Delete(r.Context(), chi.URLParam(r, "proxy_id")); err != nil {
		s.fail(w, r, "delete proxy", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthCheckProxies(w http.ResponseWriter, r *http.Request) {
	report, err := s.proxies.HealthCheckAll(r.Context())
	if err != nil {
		s.fail(w, r, "proxy health check", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
