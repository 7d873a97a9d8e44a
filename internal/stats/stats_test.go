package stats

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	assert.NotNil(t, su.vars, "expected vars map to be initialized")
	assert.NotNil(t, su.vars.Get("Uptime"), "expected Uptime metric to be registered")
	assert.NotNil(t, su.vars.Get(ActiveConnections), "expected ActiveConnections metric to be registered")
}
