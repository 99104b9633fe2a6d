package prompts

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/poco/internal/genesis"
)

func TestLoadEmbedded(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	p, err := s.GenesisPrompt("English")
	require.NoError(t, err)
	assert.Contains(t, p, "exactly 3")
	assert.Contains(t, p, "English")
}

func TestFeedPromptVariants(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	normal, err := s.FeedPrompt("hard metal", "English", false)
	require.NoError(t, err)
	debug, err := s.FeedPrompt("hard metal", "English", true)
	require.NoError(t, err)

	assert.Contains(t, normal, `"hard metal"`)
	assert.Contains(t, debug, `"hard metal"`)
	assert.Contains(t, debug, "Debug mode")
	assert.NotContains(t, normal, "Debug mode")
}

func TestSilhouetteAndStatsPrompts(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	p, err := s.SilhouettePrompt([]string{"soft", "fibrous"}, []string{"grew metal claws"})
	require.NoError(t, err)
	assert.Contains(t, p, "soft, fibrous")
	assert.Contains(t, p, "grew metal claws")
	assert.Contains(t, p, `"0 0 200 200"`)

	p, err = s.StatsPrompt(genesis.StatsRequest{
		BaseTraits:  []string{"soft"},
		Mutations:   []string{"a", "b"},
		Environment: genesis.Environment{Time: genesis.TimeNight, Weather: genesis.WeatherRain, Temp: 12.5},
	}, "Simplified Chinese")
	require.NoError(t, err)
	assert.Contains(t, p, "time: night, weather: rain, temperature: 12.5°C")
	assert.Contains(t, p, "Simplified Chinese")
}

func TestParseMissingTemplate(t *testing.T) {
	src := fstest.MapFS{
		"genesis.tmpl": {Data: []byte("hi {{.Language}}")},
	}
	_, err := Parse(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read feed")
}

func TestParseOverride(t *testing.T) {
	src := fstest.MapFS{}
	for _, n := range Names {
		src[n+".tmpl"] = &fstest.MapFile{Data: []byte(n + " override")}
	}
	s, err := Parse(src)
	require.NoError(t, err)

	p, err := s.GenesisPrompt("English")
	require.NoError(t, err)
	assert.Equal(t, "genesis override", p)
}
