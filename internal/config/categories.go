package config

const (
	CategoryInfo  = "🕯️ Information"
	CategoryVoice = "🔊 Voice"
	CategorySound = "🎵 Sounds"
)

// CategoryWeights orders command categories in help output.
var CategoryWeights = map[string]int{
	CategoryInfo:  0,
	CategoryVoice: 10,
	CategorySound: 20,
}
