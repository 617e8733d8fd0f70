// Package main – environment helpers for the kernel's CLI host.
//
// The kernel packages under internal/ are themselves env-free: every
// knob reaches them through an explicit Config value built here. This
// file is the one place process environment is read, using
// github.com/joho/godotenv to load a .env file the way the teacher's
// hand-rolled loadBotEnv did, without re-implementing a .env parser.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv loads ./.env into the process environment if present. Missing
// .env is not an error — the CLI host falls back to flag defaults.
func loadDotEnv() {
	_ = godotenv.Load()
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
