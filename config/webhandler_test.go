package config

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHandler_Get(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())
	handler := ConfigHandler(configFile)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var rc RuntimeConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rc))
	assert.Equal(t, map[string]bool{"front": true, "rear": false}, rc.InvertPWM)
	require.Len(t, rc.Startup, 2)
	assert.Equal(t, "front", rc.Startup[0].Card)
}

func TestConfigHandler_SetValidation(t *testing.T) {
	speed := func(card string, v int) []StartupCmd {
		return []StartupCmd{{Card: card, Channel: "A", Direction: "cw", Speed: v}}
	}

	tests := []struct {
		name         string
		payload      RuntimeConfig
		wantStatus   int
		wantErrorMsg string
		shouldModify bool
	}{
		{
			name:         "Valid Update",
			payload:      RuntimeConfig{Startup: speed("rear", 42), InvertPWM: map[string]bool{"rear": true}},
			wantStatus:   http.StatusOK,
			shouldModify: true,
		},
		{
			name:         "Speed Out Of Range",
			payload:      RuntimeConfig{Startup: speed("rear", 256)},
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "Speed must be between 0 and 255",
		},
		{
			name:         "Unknown Startup Card",
			payload:      RuntimeConfig{Startup: speed("middle", 10)},
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "unknown card \"middle\"",
		},
		{
			name:         "Unknown InvertPWM Card",
			payload:      RuntimeConfig{InvertPWM: map[string]bool{"middle": true}},
			wantStatus:   http.StatusBadRequest,
			wantErrorMsg: "unknown card \"middle\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createConfigFile(t, getBaseConfig())
			handler := ConfigHandler(configFile)

			body, _ := json.Marshal(tt.payload)
			req := httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewBuffer(body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantErrorMsg != "" {
				assert.Contains(t, w.Body.String(), tt.wantErrorMsg)
			}

			currentConfig, err := ReadConfig(configFile)
			require.NoError(t, err, "the file must stay valid")
			if tt.shouldModify {
				assert.Equal(t, tt.payload.Startup, currentConfig.Startup)
				assert.True(t, currentConfig.Cards["rear"].InvertPWM)
				assert.True(t, currentConfig.Cards["front"].InvertPWM, "cards not named keep their setting")
				assert.Equal(t, 2, currentConfig.Cards["rear"].Position)
				assert.Equal(t, BackendRpio, currentConfig.Hardware.Backend)
			} else {
				assert.Len(t, currentConfig.Startup, 2)
				assert.False(t, currentConfig.Cards["rear"].InvertPWM)
			}
		})
	}
}

func TestConfigHandler_BadRequests(t *testing.T) {
	configFile := createConfigFile(t, getBaseConfig())
	handler := ConfigHandler(configFile)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/config", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
