package eviction

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProtectedTagScoresInfinite(t *testing.T) {
	now := time.Now()
	c := Scorable{Tags: map[string]bool{Protected: true}, LastUsedAt: now}
	assert.True(t, math.IsInf(Score(c, now), 1))
}

func TestScoreDecreasesWithIdleTime(t *testing.T) {
	now := time.Now()
	recent := Scorable{Tags: map[string]bool{}, LastUsedAt: now.Add(-1 * time.Second)}
	stale := Scorable{Tags: map[string]bool{}, LastUsedAt: now.Add(-1 * time.Hour)}

	assert.Greater(t, Score(recent, now), Score(stale, now))
}

func TestScoreIncreasesWithTotalRequests(t *testing.T) {
	now := time.Now()
	cold := Scorable{Tags: map[string]bool{}, LastUsedAt: now, TotalRequests: 1}
	warm := Scorable{Tags: map[string]bool{}, LastUsedAt: now, TotalRequests: 100}

	assert.Greater(t, Score(warm, now), Score(cold, now))
}

func TestScoreDecreasesWithConsecutiveErrors(t *testing.T) {
	now := time.Now()
	healthy := Scorable{Tags: map[string]bool{}, LastUsedAt: now}
	flaky := Scorable{Tags: map[string]bool{}, LastUsedAt: now, ConsecutiveErrors: 5}

	assert.Greater(t, Score(healthy, now), Score(flaky, now))
}

func TestLessTieBreaksTowardOlderBeingEvicted(t *testing.T) {
	now := time.Now()
	older := Scorable{Tags: map[string]bool{}, LastUsedAt: now, CreatedAt: now.Add(-time.Hour)}
	younger := Scorable{Tags: map[string]bool{}, LastUsedAt: now, CreatedAt: now}

	assert.True(t, Less(older, younger, now))
	assert.False(t, Less(younger, older, now))
}
