package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads a .env file from the executable's directory, falling back
// to the working directory. Variables already set in the environment win.
// Returns the path that was loaded, or "" if none was found.
func LoadEnvFile() string {
	for _, dir := range envFileDirs() {
		envFile := filepath.Join(dir, ".env")
		if _, err := os.Stat(envFile); err != nil {
			continue
		}

		if err := godotenv.Load(envFile); err != nil {
			slog.Error("Failed to load .env file", "error", err, "path", envFile)
			return ""
		}

		slog.Info("Configuration loaded from .env file", "path", envFile)
		return envFile
	}

	slog.Debug("No .env file found")
	return ""
}

func envFileDirs() []string {
	var dirs []string
	if execPath, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(execPath))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}
