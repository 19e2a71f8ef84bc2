package bootstrap

import (
	"os"

	"github.com/charmbracelet/log"

	"keyportal/internal/config"
	"keyportal/internal/database"
)

// Setup loads configuration and prepares persistent state before any
// handler or background job runs.
func Setup() {
	if err := os.MkdirAll(config.DataDir, os.ModePerm); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	config.ReadSettings()

	if _, err := database.SetupDB(); err != nil {
		log.Fatalf("failed to set up database: %v", err)
	}
}
