// Package view projects the conversation log into renderable nodes.
// Projection is pure: the same message always yields the same node.
package view

import (
	"encoding/json"
	"sort"
	"strings"

	"askweb/internal/domain"
)

// Kind tells the rendering layer which component to draw.
type Kind string

const (
	KindEmpty         Kind = ""
	KindUserMessage   Kind = "user_message"
	KindInquiryReply  Kind = "inquiry_reply"
	KindInquiry       Kind = "inquiry"
	KindAnswer        Kind = "answer"
	KindRelated       Kind = "related"
	KindSearchResults Kind = "search_results"
	KindRetrieve      Kind = "retrieve"
	KindVideo         Kind = "video"
	KindTool          Kind = "tool"
)

// Node is one renderable entry. Nodes of the same turn group share an ID.
type Node struct {
	ID      string                `json:"id"`
	Kind    Kind                  `json:"kind,omitempty"`
	Text    string                `json:"text,omitempty"`
	Inquiry *domain.Inquiry       `json:"inquiry,omitempty"`
	Related []domain.RelatedQuery `json:"related,omitempty"`
	Search  *domain.SearchResults `json:"search,omitempty"`
	Videos  *domain.VideoResults  `json:"videos,omitempty"`
	Tool    string                `json:"tool,omitempty"`
	Data    json.RawMessage       `json:"data,omitempty"`
}

// Empty reports whether the node is a placeholder with no content.
func (n *Node) Empty() bool { return n.Kind == KindEmpty }

func empty(id string) *Node { return &Node{ID: id} }

func groupID(m domain.Message) string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.ID
}

// Project maps one message to its node. It is total: messages it cannot
// interpret become empty nodes carrying only the message id.
func Project(m domain.Message) *Node {
	p, err := m.Payload()
	if err != nil {
		return empty(m.ID)
	}

	switch v := p.(type) {
	case domain.UserInput:
		return &Node{ID: m.ID, Kind: KindUserMessage, Text: v.Text}
	case domain.UserRelated:
		return &Node{ID: m.ID, Kind: KindUserMessage, Text: v.Query}
	case domain.UserInquiryReply:
		return &Node{ID: m.ID, Kind: KindInquiryReply, Text: InquiryReplySummary(v.Form)}
	case domain.AssistantInquiry:
		return &Node{ID: m.ID, Kind: KindInquiry, Text: v.Question, Inquiry: &domain.Inquiry{Question: v.Question}}
	case domain.AssistantAnswer:
		return &Node{ID: groupID(m), Kind: KindAnswer, Text: v.Text}
	case domain.AssistantRelated:
		return &Node{ID: groupID(m), Kind: KindRelated, Related: v.Related.Items}
	case domain.ToolOutput:
		return projectTool(groupID(m), v)
	}
	// UserSkip and anything added later
	return empty(m.ID)
}

func projectTool(id string, out domain.ToolOutput) *Node {
	switch out.Name {
	case "search", "retrieve":
		var res domain.SearchResults
		if err := json.Unmarshal(out.Raw, &res); err != nil {
			return empty(id)
		}
		kind := KindSearchResults
		if out.Name == "retrieve" {
			kind = KindRetrieve
		}
		return &Node{ID: id, Kind: kind, Tool: out.Name, Search: &res}
	case "video_search":
		var res domain.VideoResults
		if err := json.Unmarshal(out.Raw, &res); err != nil {
			return empty(id)
		}
		return &Node{ID: id, Kind: KindVideo, Tool: out.Name, Videos: &res}
	default:
		if !json.Valid(out.Raw) {
			return empty(id)
		}
		return &Node{ID: id, Kind: KindTool, Tool: out.Name, Data: out.Raw}
	}
}

// ProjectAll projects the log in order.
func ProjectAll(msgs []domain.Message) []*Node {
	nodes := make([]*Node, 0, len(msgs))
	for _, m := range msgs {
		if n := Project(m); n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// InquiryReplySummary renders an inquiry answer form as one line: checked
// option keys first, then the free-text answer.
func InquiryReplySummary(f domain.Form) string {
	var picked []string
	for k, v := range f {
		if k == "additional_query" {
			continue
		}
		if s, ok := v.(string); ok && s == "on" {
			picked = append(picked, k)
		} else if b, ok := v.(bool); ok && b {
			picked = append(picked, k)
		}
	}
	sort.Strings(picked)
	if extra := f.String("additional_query"); extra != "" {
		picked = append(picked, extra)
	}
	return strings.Join(picked, ", ")
}

// InquiryNode is the node streamed while a clarifying question is generated.
func InquiryNode(id string, inq *domain.Inquiry) *Node {
	return &Node{ID: id, Kind: KindInquiry, Text: inq.Question, Inquiry: inq}
}

// RelatedNode is the node streamed while follow-up queries are generated.
func RelatedNode(id string, items []domain.RelatedQuery) *Node {
	return &Node{ID: id, Kind: KindRelated, Related: items}
}
