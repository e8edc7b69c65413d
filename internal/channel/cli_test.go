package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askweb/internal/domain"
)

func TestInquiryReply(t *testing.T) {
	inq := &domain.Inquiry{
		Question: "Which Paris?",
		Options: []domain.InquiryOption{
			{Value: "france", Label: "Paris, France"},
			{Value: "texas", Label: "Paris, Texas"},
		},
	}

	tests := []struct {
		line string
		want domain.Form
	}{
		{"1", domain.Form{"france": "on"}},
		{"1,2", domain.Form{"france": "on", "texas": "on"}},
		{"1 2", domain.Form{"france": "on", "texas": "on"}},
		{"2 only museums", domain.Form{"texas": "on", "additional_query": "only museums"}},
		{"the one in Kentucky", domain.Form{"additional_query": "the one in Kentucky"}},
		{"3", domain.Form{"additional_query": "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, InquiryReply(inq, tt.line))
		})
	}
}

func runCLI(t *testing.T, stages *fakeStages, input string) (string, *CLI) {
	t.Helper()
	ctrl, _ := newTestController(stages)
	sess, err := ctrl.Sessions().GetOrCreate(context.Background(), "cli-1")
	require.NoError(t, err)

	var out bytes.Buffer
	cli := NewCLI(CLIConfig{
		Controller: ctrl,
		Session:    sess,
		Logger:     testLogger(),
		In:         strings.NewReader(input),
		Out:        &out,
	})
	require.NoError(t, cli.Run(context.Background()))
	return out.String(), cli
}

func TestCLI_AnswerAndRelated(t *testing.T) {
	out, cli := runCLI(t, &fakeStages{answer: "Paris.", related: []string{"Population of Paris?", "History?"}},
		"capital of France\n/related 2\n/quit\n")

	assert.Contains(t, out, "Paris.")
	assert.Contains(t, out, "[search] \"capital of France\"")
	assert.Contains(t, out, "1. Population of Paris?")
	assert.Len(t, cli.related, 2)

	msgs := cli.session.Messages()
	var relatedAsked bool
	for _, m := range msgs {
		if m.Type == domain.TypeInputRelated && strings.Contains(m.Content, "History?") {
			relatedAsked = true
		}
	}
	assert.True(t, relatedAsked, "/related 2 submits the second suggestion")
}

func TestCLI_InquiryThenAnswer(t *testing.T) {
	stages := &fakeStages{
		answer: "Paris, Texas has 25k people.",
		inquire: &domain.Inquiry{
			Question: "Which Paris?",
			Options:  []domain.InquiryOption{{Value: "fr", Label: "France"}, {Value: "tx", Label: "Texas"}},
		},
	}
	out, cli := runCLI(t, stages, "population of paris\n2\n")

	assert.Contains(t, out, "Which Paris?")
	assert.Contains(t, out, "2. Texas")
	assert.Contains(t, out, "Answer> ")
	assert.Contains(t, out, "Paris, Texas has 25k people.")
	assert.Nil(t, cli.inquiry)

	msgs := cli.session.Messages()
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, domain.TypeInquiry, msgs[2].Type, "the reply to an inquiry is an inquiry-typed user message")
	assert.Equal(t, domain.RoleUser, msgs[2].Role)
	assert.Contains(t, msgs[2].Content, `"tx":"on"`)
}

func TestCLI_LocalCommands(t *testing.T) {
	out, cli := runCLI(t, &fakeStages{}, "/skip\n/related 1\n/bogus\n/help\n")
	assert.Contains(t, out, "Nothing to skip.")
	assert.Contains(t, out, "Pick a related question between 1 and 0.")
	assert.Contains(t, out, "Unknown command.")
	assert.Contains(t, out, "/related N")
	assert.Empty(t, cli.session.Messages())
}
