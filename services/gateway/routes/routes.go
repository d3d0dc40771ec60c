// Copyright (C) 2025 OmniChat Contributors (hello@omnichat.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnichat-app/omnichat/services/gateway/handlers"
	"github.com/omnichat-app/omnichat/services/gateway/middleware"
)

// SetupRoutes wires the gateway's endpoints onto a gin engine.
func SetupRoutes(router *gin.Engine, deps handlers.ChatDeps, limiter *middleware.RateLimiter) {
	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	{
		api.POST("/chat", handlers.HandleChat(deps))
		api.GET("/chat/ws", handlers.HandleChatWS(deps))
	}
}
