package domain

// SkillResponseVersion is the Kakao skill response schema version.
const SkillResponseVersion = "2.0"

// SkillResponse is the response envelope expected by a Kakao chatbot skill.
type SkillResponse struct {
	Version  string   `json:"version"`
	Template Template `json:"template"`
}

// Template holds the ordered output blocks of a skill response.
type Template struct {
	Outputs []Output `json:"outputs"`
}

// Output is a single output block. Only simpleText is produced by the relay.
type Output struct {
	SimpleText SimpleText `json:"simpleText"`
}

type SimpleText struct {
	Text string `json:"text"`
}

// NewSimpleTextResponse wraps text into a single simpleText output block.
func NewSimpleTextResponse(text string) SkillResponse {
	return SkillResponse{
		Version: SkillResponseVersion,
		Template: Template{
			Outputs: []Output{{SimpleText: SimpleText{Text: text}}},
		},
	}
}
