// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package router registers call-core's gin routes: the telephony webhook
// and media stream, the browser WebSocket endpoint, and a health check.
package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rapidaai/callcore/internal/callstore"
	"github.com/rapidaai/callcore/internal/config"
	"github.com/rapidaai/callcore/internal/transport"
	"github.com/rapidaai/callcore/internal/transport/browserws"
	"github.com/rapidaai/callcore/internal/transport/telephonyws"
)

// New builds the gin engine serving every call-core endpoint.
func New(cfg *config.AppConfig, deps transport.Deps, store callstore.Store) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST"},
		AllowHeaders:    []string{"*"},
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	telephony := engine.Group("/v1/telephony")
	{
		telephony.POST("/call", telephonyws.CallReceiver(cfg, store))
		telephony.GET("/stream", telephonyws.MediaStream(deps, store))
	}

	browser := engine.Group("/v1/browser")
	{
		browser.GET("/connect", browserws.Connect(deps, store))
	}

	return engine
}
