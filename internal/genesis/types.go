// internal/genesis/types.go
//
// Core type definitions for the hatchery flow.
// Defines:
//   - Stage: the seven screens a session moves through.
//   - Worldview, Task, Pet, Stats: content produced by the generation provider.
//   - Environment: time/weather context fed into the final hatch.
//   - Image: an encoded photo captured by the client.

package genesis

// Stage is the current screen of a session.
//
//	intro → genesis → analyzing-genesis → quest ⇄ analyzing-feed
//	                                      quest → hatching → reveal
type Stage string

const (
	StageIntro            Stage = "intro"
	StageGenesis          Stage = "genesis"
	StageAnalyzingGenesis Stage = "analyzing-genesis"
	StageQuest            Stage = "quest"
	StageAnalyzingFeed    Stage = "analyzing-feed"
	StageHatching         Stage = "hatching"
	StageReveal           Stage = "reveal"
)

// TaskCount is the number of feeding tasks every worldview carries.
const TaskCount = 3

// Worldview is the theme derived from the genesis photo.
type Worldview struct {
	Theme       string   `json:"theme"`
	Description string   `json:"description"`
	BaseTraits  []string `json:"baseTraits"`
}

// Task is a photo-capture objective the player must satisfy before hatching.
type Task struct {
	ID             string `json:"id"`
	Requirement    string `json:"requirement"`
	Description    string `json:"description"`
	Completed      bool   `json:"completed"`
	MutationEffect string `json:"mutationEffect,omitempty"`
}

// Stats is the final creature's stat block.
type Stats struct {
	HP  int `json:"hp"`
	ATK int `json:"atk"`
	DEF int `json:"def"`
	SPD int `json:"spd"`
}

// Pet is the hatched creature.
type Pet struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"` // data URI
	Stats       Stats  `json:"stats"`
	IsFailure   bool   `json:"isFailure"`
	FailureType string `json:"failureType"` // none | slime | abomination | minimalist, as reported
}

// Time-of-day and weather buckets.
const (
	TimeDay   = "day"
	TimeNight = "night"

	WeatherClear = "clear"
	WeatherRain  = "rain"
	WeatherSnow  = "snow"
	WeatherStorm = "storm"
)

// Environment parameterizes the hatch prompt.
type Environment struct {
	Time    string  `json:"time"`
	Weather string  `json:"weather"`
	Temp    float64 `json:"temp"`
}

// DefaultEnvironment is used until (and unless) a weather lookup succeeds.
func DefaultEnvironment() Environment {
	return Environment{Time: TimeDay, Weather: WeatherClear, Temp: 25}
}

// Image is an encoded photo.
type Image struct {
	Data     []byte
	MIMEType string
}
