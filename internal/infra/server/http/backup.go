package httpserver

import (
	"net/http"
	"time"

	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/infra/config"
)

const exportVersion = "1"

// ConfigExport is the redacted configuration snapshot served by GET /config.
type ConfigExport struct {
	Version     string                     `json:"version"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	Environment config.Environment         `json:"environment"`
	ActiveScope string                     `json:"activeScope"`
	Scopes      []config.ScopeConfig       `json:"scopes"`
	Credentials []schema.Credential        `json:"credentials"`
	Polling     config.PollingConfig       `json:"polling"`
	Transport   config.TransportConfig     `json:"transport"`
	Collab      config.CollaboratorsConfig `json:"collaborators"`
}

func buildExport(cfg config.AppConfig, now time.Time) ConfigExport {
	creds := make([]schema.Credential, 0, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		creds = append(creds, c.Redacted())
	}
	scopes := make([]config.ScopeConfig, 0, len(cfg.Scopes))
	for _, sc := range cfg.Scopes {
		scopes = append(scopes, sc.Clone())
	}
	return ConfigExport{
		Version:     exportVersion,
		GeneratedAt: now.UTC(),
		Environment: cfg.Environment,
		ActiveScope: cfg.ActiveScope,
		Scopes:      scopes,
		Credentials: creds,
		Polling:     cfg.Polling,
		Transport:   cfg.Transport,
		Collab:      cfg.Collaborators,
	}
}

func (s *httpServer) exportConfig(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "config store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, buildExport(s.store.Snapshot(), time.Now()))
}
