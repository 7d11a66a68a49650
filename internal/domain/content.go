package domain

// Part is a single text fragment of a generative-language content block.
type Part struct {
	Text string `json:"text"`
}

// Content is one entry of the upstream "contents" list.
type Content struct {
	Parts []Part `json:"parts"`
}

// TextContent returns a Content holding exactly one text part.
func TextContent(text string) Content {
	return Content{Parts: []Part{{Text: text}}}
}
