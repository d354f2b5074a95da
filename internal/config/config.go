// Package config resolves server settings from defaults, a .env file (via
// godotenv's autoload, same as the teacher's cmd/server/main.go), and
// environment variables, generalizing the teacher's getEnv/getEnvInt helpers
// from cmd/db/historian.go into a single struct.
package config

import (
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config holds every knob the server needs at startup.
type Config struct {
	BindIP      string
	Port        int
	Rooms       int
	MaxPlayers  int
	MinBet      int
	MaxBet      int
	RecoveryTTL time.Duration

	AdminEnabled bool
	AdminPort    int
}

// Defaults match the ones listed in SPEC_FULL.md: bind-all, port 10000, six
// rooms, twenty max players.
func Defaults() Config {
	return Config{
		BindIP:       "0.0.0.0",
		Port:         10000,
		Rooms:        6,
		MaxPlayers:   20,
		MinBet:       10,
		MaxBet:       500,
		RecoveryTTL:  5 * time.Minute,
		AdminEnabled: true,
		AdminPort:    10001,
	}
}

// Load layers environment variables over the defaults. CLI flags (parsed by
// cmd/blackjackd) are applied on top of whatever this returns.
func Load() Config {
	c := Defaults()
	c.BindIP = getEnv("BLACKJACKD_BIND_IP", c.BindIP)
	c.Port = getEnvInt("BLACKJACKD_PORT", c.Port)
	c.Rooms = getEnvInt("BLACKJACKD_ROOMS", c.Rooms)
	c.MaxPlayers = getEnvInt("BLACKJACKD_MAX_PLAYERS", c.MaxPlayers)
	c.MinBet = getEnvInt("BLACKJACKD_MIN_BET", c.MinBet)
	c.MaxBet = getEnvInt("BLACKJACKD_MAX_BET", c.MaxBet)
	c.AdminPort = getEnvInt("BLACKJACKD_ADMIN_PORT", c.AdminPort)
	return c
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or
// returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return n
}
