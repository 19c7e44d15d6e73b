package timeoutrules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve_FirstMatchingPrefixWins(t *testing.T) {
	r := New([]Rule{
		{Path: "/create-checkout-session/", Timeout: 300 * time.Second},
		{Path: "/create-checkout-session", Timeout: 10 * time.Second},
	}, 5*time.Second)

	assert.Equal(t, 300*time.Second, r.Resolve("/create-checkout-session/abc"))
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := New([]Rule{{Path: "/slow/", Timeout: time.Minute}}, 5*time.Second)
	assert.Equal(t, 5*time.Second, r.Resolve("/"))
}

func TestResolve_PrefixIsByteExact(t *testing.T) {
	r := New([]Rule{{Path: "/Slow/", Timeout: time.Minute}}, 5*time.Second)
	assert.Equal(t, 5*time.Second, r.Resolve("/slow/path"))
}
