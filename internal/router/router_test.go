// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callcore/internal/config"
	"github.com/rapidaai/callcore/internal/logging"
	"github.com/rapidaai/callcore/internal/transport"
)

func TestNew_HealthzReportsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := logging.New(logging.Options{Level: "error"})
	require.NoError(t, err)

	engine := New(&config.AppConfig{}, transport.Deps{Logger: logger}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
