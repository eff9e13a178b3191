package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the part of the configuration that can be changed over
// the web API. Chain layout and hardware settings are left alone.
type RuntimeConfig struct {
	Startup   []StartupCmd    `json:"startup"`
	InvertPWM map[string]bool `json:"invertPWM"`
}

// ConfigHandler serves GET and POST on the runtime configuration stored in
// cfile. A successful POST rewrites the file, the config watcher then
// restarts the chain.
func ConfigHandler(cfile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getConfigHandler(w, cfile)
		case http.MethodPost:
			setConfigHandler(w, r, cfile)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func runtimeOf(c *Config) RuntimeConfig {
	rc := RuntimeConfig{
		Startup:   c.Startup,
		InvertPWM: make(map[string]bool, len(c.Cards)),
	}
	if rc.Startup == nil {
		rc.Startup = []StartupCmd{}
	}
	for name, cfg := range c.Cards {
		rc.InvertPWM[name] = cfg.InvertPWM
	}
	return rc
}

func getConfigHandler(w http.ResponseWriter, cfile string) {
	slog.Info("Handling GET /api/config request")
	fullConfig, err := ReadConfig(cfile)
	if err != nil {
		slog.Error("Failed to read config file for API", "error", err)
		http.Error(w, "Failed to read configuration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runtimeOf(&fullConfig)); err != nil {
		slog.Error("Failed to encode runtime config to JSON", "error", err)
		http.Error(w, "Failed to serialize configuration", http.StatusInternalServerError)
	}
}

func setConfigHandler(w http.ResponseWriter, r *http.Request, cfile string) {
	slog.Info("Handling POST /api/config request")
	defer r.Body.Close()

	var update RuntimeConfig
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Error("Failed to decode incoming JSON", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	fullConfig, err := ReadConfig(cfile)
	if err != nil {
		slog.Error("Failed to read existing config for update", "error", err)
		http.Error(w, "Failed to read configuration", http.StatusInternalServerError)
		return
	}

	if update.Startup != nil {
		fullConfig.Startup = update.Startup
	}
	for name, invert := range update.InvertPWM {
		cfg, ok := fullConfig.Cards[name]
		if !ok {
			http.Error(w, fmt.Sprintf("Invalid configuration: unknown card %q", name), http.StatusBadRequest)
			return
		}
		cfg.InvertPWM = invert
		fullConfig.Cards[name] = cfg
	}

	if err := fullConfig.Validate(); err != nil {
		slog.Error("Validation failed for new config", "error", err)
		http.Error(w, fmt.Sprintf("Invalid configuration: %v", err), http.StatusBadRequest)
		return
	}

	yamlData, err := yaml.Marshal(&fullConfig)
	if err != nil {
		slog.Error("Failed to marshal merged config to YAML", "error", err)
		http.Error(w, "Failed to prepare configuration for saving", http.StatusInternalServerError)
		return
	}
	if err := os.WriteFile(cfile, yamlData, 0o644); err != nil {
		slog.Error("Failed to write updated config file", "error", err)
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}

	slog.Info("Updated config file, the chain will restart")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Configuration updated successfully.")
}
