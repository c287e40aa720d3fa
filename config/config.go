package config

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	DBPath     string
	CSRFKey    []byte
	// Write endpoints allow WriteRatePerMin requests per minute per client,
	// with bursts of up to WriteBurst.
	WriteRatePerMin float64
	WriteBurst      int
}

func Load() *Config {
	// A missing .env file is fine; the defaults below apply.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to read .env file: %v", err)
	}

	return &Config{
		ServerPort:      getEnv("SERVER_PORT", ":8080"),
		DBPath:          getEnv("DB_PATH", "./school.db"),
		CSRFKey:         csrfKey(),
		WriteRatePerMin: getEnvFloat("WRITE_RATE_PER_MIN", 60),
		WriteBurst:      getEnvInt("WRITE_BURST", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Printf("Ignoring invalid %s=%q", key, v)
		return fallback
	}
	return f
}

// csrfKey reads CSRF_KEY (base64 of 32 bytes). Without it a fresh key is
// generated, so form tokens do not survive a restart.
func csrfKey() []byte {
	if v := os.Getenv("CSRF_KEY"); v != "" {
		key, err := base64.StdEncoding.DecodeString(v)
		if err == nil && len(key) == 32 {
			return key
		}
		log.Printf("Ignoring CSRF_KEY: expected base64 of 32 bytes")
	}
	return generateCSRFKey()
}

func generateCSRFKey() []byte {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("Failed to generate CSRF key:", err)
	}
	return bytes
}
