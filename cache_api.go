package main

import (
	"net/http"
)

/*
	cache_api.go

	This file registers the control API and the page facing routes.
	Everything that is not under /_sw/ goes through the intercepting proxy.
*/

// registerCacheAPIs registers the control endpoints
func registerCacheAPIs(mux *http.ServeMux) {
	if cacheAdminHandler == nil {
		return
	}

	SystemWideLogger.Info("Registering offline cache API endpoints")
	mux.HandleFunc("/_sw/status", cacheAdminHandler.HandleStatus)
	mux.HandleFunc("/_sw/entries", cacheAdminHandler.HandleEntries)
	mux.HandleFunc("/_sw/message", cacheAdminHandler.HandleMessage)
	mux.HandleFunc("/_sw/push", cacheAdminHandler.HandlePush)
	mux.HandleFunc("/_sw/notificationclick", cacheAdminHandler.HandleNotificationClick)
	mux.HandleFunc("/_sw/sync", cacheAdminHandler.HandleSync)
	mux.HandleFunc("/_sw/purge", cacheAdminHandler.HandlePurge)
	mux.HandleFunc("/_sw/stats", cacheAdminHandler.HandleStats)
	mux.HandleFunc("/_sw/stats/category", cacheAdminHandler.Protect(fetchStats.HandleGetStats))
	mux.HandleFunc("/_sw/stats/reset", cacheAdminHandler.Protect(fetchStats.HandleResetStats))
}

// registerPageRoutes registers the websocket hub and the proxy catch-all
func registerPageRoutes(mux *http.ServeMux) {
	if notificationHub != nil {
		mux.Handle("/_sw/ws", notificationHub)
	}
	if cacheProxy != nil {
		mux.Handle("/", cacheProxy)
	}
}
