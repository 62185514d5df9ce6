package main

import (
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xam55/new-vpn-bot/cmd/vpnbot/cmd"
)

func main() {
	// A missing .env is fine; configuration falls back to real env vars
	// and config files.
	_ = godotenv.Load()

	cmd.Execute()
}
