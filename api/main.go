// @title BBBAB Teamchat
// @version 0.2
// @description Team chat: channels, threads, reactions, presence and realtime delivery.

// @host localhost:8080
// @BasePath /api
// @query.collection.format multi
// @schemes http

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization

package main

import (
	"log"

	"tush00nka/bbbab_teamchat/internal/app"
	"tush00nka/bbbab_teamchat/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	app.Run(cfg)
}
