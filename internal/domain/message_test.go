package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormType(t *testing.T) {
	assert.Equal(t, TypeInput, FormType(Form{"input": "capital of France"}))
	assert.Equal(t, TypeInputRelated, FormType(Form{"related_query": "population of Paris"}))
	assert.Equal(t, TypeInquiry, FormType(Form{"additional_query": "the city"}))
	// input wins when both are present
	assert.Equal(t, TypeInput, FormType(Form{"input": "a", "related_query": "b"}))
}

func TestNewUserMessage(t *testing.T) {
	m, err := NewUserMessage(Form{"input": "capital of France"})
	require.NoError(t, err)
	assert.Equal(t, RoleUser, m.Role)
	assert.Equal(t, TypeInput, m.Type)
	assert.NotEmpty(t, m.ID)
	assert.Empty(t, m.GroupID)
	require.NoError(t, m.Validate())

	p, err := m.Payload()
	require.NoError(t, err)
	in, ok := p.(UserInput)
	require.True(t, ok)
	assert.Equal(t, "capital of France", in.Text)
}

func TestNewUserMessage_EmptyForm(t *testing.T) {
	_, err := NewUserMessage(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestNewSkipMessage(t *testing.T) {
	m := NewSkipMessage()
	assert.Equal(t, SkipContent, m.Content)
	assert.Equal(t, TypeNone, m.Type)
	require.NoError(t, m.Validate())

	p, err := m.Payload()
	require.NoError(t, err)
	assert.IsType(t, UserSkip{}, p)
}

func TestNewInquiryMessage(t *testing.T) {
	m := NewInquiryMessage("About what topic?")
	assert.Equal(t, "inquiry: About what topic?", m.Content)
	p, err := m.Payload()
	require.NoError(t, err)
	assert.Equal(t, AssistantInquiry{Question: "About what topic?"}, p)
}

func TestNewRelatedMessage(t *testing.T) {
	m, err := NewRelatedMessage("g1", RelatedQueries{Items: []RelatedQuery{{Query: "a"}, {Query: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, "g1", m.GroupID)
	assert.JSONEq(t, `{"items":[{"query":"a"},{"query":"b"}]}`, m.Content)

	p, err := m.Payload()
	require.NoError(t, err)
	rel := p.(AssistantRelated)
	assert.Len(t, rel.Related.Items, 2)
}

func TestNewToolMessage(t *testing.T) {
	m, err := NewToolMessage("g1", "search", EmptySearchResults("go"))
	require.NoError(t, err)
	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "search", m.Name)
	require.NoError(t, m.Validate())

	var res SearchResults
	require.NoError(t, json.Unmarshal([]byte(m.Content), &res))
	assert.Equal(t, "go", res.Query)
	assert.Equal(t, 0, res.NumberOfResults)

	_, err = NewToolMessage("g1", "", nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestValidate_RejectsUnknownPairs(t *testing.T) {
	m := Message{ID: "x", Role: RoleAssistant, Type: TypeInput}
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = Message{ID: "x", Role: "system", Type: TypeAnswer}
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = Message{Role: RoleUser, Type: TypeInput}
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)
}

func TestPayload_Malformed(t *testing.T) {
	_, err := Message{ID: "1", Role: RoleUser, Type: TypeInput, Content: "not json"}.Payload()
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = Message{ID: "2", Role: RoleAssistant, Type: "weird"}.Payload()
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestFormString(t *testing.T) {
	f := Form{"input": "x", "n": 3.0, "tags": []any{"a"}}
	assert.Equal(t, "x", f.String("input"))
	assert.Equal(t, "3", f.String("n"))
	assert.Equal(t, `["a"]`, f.String("tags"))
	assert.Equal(t, "", f.String("missing"))
}
