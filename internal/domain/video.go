package domain

// VideoResults mirrors the Serper video search response.
type VideoResults struct {
	SearchParameters struct {
		Q    string `json:"q"`
		Type string `json:"type,omitempty"`
	} `json:"searchParameters"`
	Videos []Video `json:"videos"`
}

type Video struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Duration string `json:"duration,omitempty"`
	Source   string `json:"source,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Date     string `json:"date,omitempty"`
}
