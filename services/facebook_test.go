package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"helpdesk-bot/models"
)

func TestProfileName(t *testing.T) {
	assert.Equal(t, "Tamar G", (&Profile{FirstName: "Tamar", LastName: "G"}).Name())
	assert.Equal(t, "Tamar", (&Profile{FirstName: "Tamar"}).Name())
	assert.Equal(t, "G", (&Profile{LastName: "G"}).Name())
	assert.Empty(t, (&Profile{}).Name())
}

func TestFallbackName(t *testing.T) {
	assert.Equal(t, "User 12345678", FallbackName("1234567890123"))
	assert.Equal(t, "User 123", FallbackName("123"))
	assert.Equal(t, "User", FallbackName(""))
}

func TestDispatchDelay(t *testing.T) {
	fallback := 2
	delay := func(seconds int) *models.Company {
		return &models.Company{DispatchDelaySeconds: &seconds}
	}

	// No tenant override uses the fallback
	assert.Equal(t, 2*time.Second, DispatchDelay(&models.Company{}, fallback))

	// Tenant override wins, and an explicit zero means immediate dispatch
	assert.Equal(t, 5*time.Second, DispatchDelay(delay(5), fallback))
	assert.Equal(t, time.Duration(0), DispatchDelay(delay(0), fallback))

	// Overrides are clamped to the sane window
	assert.Equal(t, 30*time.Second, DispatchDelay(delay(120), fallback))
	assert.Equal(t, time.Duration(0), DispatchDelay(delay(-1), fallback))
}
