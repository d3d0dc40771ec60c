// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/omnichat-app/omnichat/services/gateway/handlers"
	"github.com/omnichat-app/omnichat/services/gateway/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupRoutes_Health(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, handlers.ChatDeps{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSetupRoutes_Metrics(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, handlers.ChatDeps{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_RateLimitApplies(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, handlers.ChatDeps{}, middleware.NewRateLimiter(0, 0))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestSetupRoutes_UnknownRoute(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, handlers.ChatDeps{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
