package domain

// InquiryOption is one selectable answer offered with a clarifying question.
type InquiryOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Inquiry is the structured clarifying question shown to the user.
type Inquiry struct {
	Question         string          `json:"question"`
	Options          []InquiryOption `json:"options,omitempty"`
	AllowsInput      bool            `json:"allowsInput"`
	InputLabel       string          `json:"inputLabel,omitempty"`
	InputPlaceholder string          `json:"inputPlaceholder,omitempty"`
}

// RelatedQuery is a single follow-up suggestion.
type RelatedQuery struct {
	Query string `json:"query"`
}

// RelatedQueries is the follow-up list stored with a turn.
type RelatedQueries struct {
	Items []RelatedQuery `json:"items"`
}
