package gemini

import "github.com/google/generative-ai-go/genai"

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

var analyzeSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"theme":       str("worldview theme"),
		"description": str("description of the worldview"),
		"baseTraits": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "extracted core traits",
		},
		"tasks": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":          {Type: genai.TypeString},
					"requirement": str("short name of the required material, e.g. 'hard metal'"),
					"description": str("task text, e.g. 'It is too soft. Photograph something metallic.'"),
				},
				Required: []string{"id", "requirement", "description"},
			},
			Description: "exactly 3 tasks",
		},
	},
	Required: []string{"theme", "description", "baseTraits", "tasks"},
}

var feedSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"success":        {Type: genai.TypeBoolean},
		"message":        str("feedback for the player"),
		"mutationEffect": str("on success, the mutation the embryo undergoes"),
	},
	Required: []string{"success", "message"},
}

// debugFeedSchema makes the mutation narrative mandatory since success is forced.
var debugFeedSchema = &genai.Schema{
	Type:       genai.TypeObject,
	Properties: feedSchema.Properties,
	Required:   []string{"success", "message", "mutationEffect"},
}

var silhouetteSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"svg": str("plain text containing a complete <svg> element"),
	},
	Required: []string{"svg"},
}

var statsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"isFailure":   {Type: genai.TypeBoolean},
		"failureType": str("none, slime, abomination or minimalist"),
		"name":        str("pet name"),
		"description": str("fun or cool description"),
		"stats": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"hp":  {Type: genai.TypeInteger},
				"atk": {Type: genai.TypeInteger},
				"def": {Type: genai.TypeInteger},
				"spd": {Type: genai.TypeInteger},
			},
			Required: []string{"hp", "atk", "def", "spd"},
		},
		"imagePrompt": str("highly detailed English prompt for an image of this pet"),
	},
	Required: []string{"isFailure", "failureType", "name", "description", "stats", "imagePrompt"},
}
