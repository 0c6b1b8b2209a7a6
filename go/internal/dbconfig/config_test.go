package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	c := Config{Host: "db", Port: 5433, User: "board", Password: "p@ss:word", Database: "seatboard", SSLMode: "require"}
	assert.Equal(t, "postgres://board:p%40ss%3Aword@db:5433/seatboard?sslmode=require", c.DSN())

	c.URL = "postgres://elsewhere/x"
	assert.Equal(t, "postgres://elsewhere/x", c.DSN())
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "pg")
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_NAME", "")

	c := NewConfigFromEnv()
	assert.Equal(t, "pg", c.Host)
	assert.Equal(t, 5432, c.Port)
	assert.Equal(t, "seatboard", c.Database)
}
