package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/helioai/lio-agent/runtime/agent/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{
		DefaultModel: "claude-sonnet-4-5",
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := &model.Request{
		Messages: []*model.Message{
			model.Text(model.ConversationRoleSystem, "be brief"),
			model.Text(model.ConversationRoleUser, "hello"),
		},
	}

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{
				Type: "text",
				Text: "world",
			},
		},
		StopReason: sdk.StopReasonEndTurn,
		Usage: sdk.Usage{
			InputTokens:  10,
			OutputTokens: 5,
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "world" {
		t.Fatalf("unexpected text %q", resp.Content)
	}
	if resp.StopReason != string(sdk.StopReasonEndTurn) {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "be brief" {
		t.Fatalf("expected system prompt to be lifted, got %+v", stub.lastParams.System)
	}
	if len(stub.lastParams.Messages) != 1 {
		t.Fatalf("expected 1 conversation message, got %d", len(stub.lastParams.Messages))
	}
}

func TestComplete_ToolUse(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{
		DefaultModel: "claude-sonnet-4-5",
		MaxTokens:    128,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := &model.Request{
		Messages: []*model.Message{model.Text(model.ConversationRoleUser, "analyze my campaigns")},
		Tools: []*model.ToolDefinition{
			{
				Name:        "analyzeCampaigns",
				Description: "Analyze campaigns",
				InputSchema: map[string]any{"type": "object"},
			},
		},
		ToolChoice: model.ToolChoiceAuto,
	}

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{
				Type:  "tool_use",
				Name:  "analyzeCampaigns",
				ID:    "tool-1",
				Input: json.RawMessage(`{"timeRange":"7d"}`),
			},
		},
		StopReason: sdk.StopReasonToolUse,
	}

	resp, err := cl.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.Name != "analyzeCampaigns" || call.ID != "tool-1" {
		t.Fatalf("unexpected tool call %+v", call)
	}
	if call.Arguments != `{"timeRange":"7d"}` {
		t.Fatalf("unexpected arguments %s", call.Arguments)
	}
	if len(stub.lastParams.Tools) != 1 {
		t.Fatalf("expected 1 encoded tool, got %d", len(stub.lastParams.Tools))
	}
	if stub.lastParams.ToolChoice.OfNone != nil {
		t.Fatalf("auto tool choice must not disable tools")
	}
}

func TestEncodeMessages_FoldsToolResults(t *testing.T) {
	a := model.ToolCall{ID: "a", Name: "searchBooks", Arguments: `{"query":"go"}`}
	b := model.ToolCall{ID: "b", Name: "searchBooks", Arguments: `not json`}
	msgs, _, err := encodeMessages([]*model.Message{
		model.Text(model.ConversationRoleUser, "books"),
		{Role: model.ConversationRoleAssistant, ToolCalls: []model.ToolCall{a, b}},
		model.ToolResult(a, `[]`),
		model.ToolResult(b, `{"error":"boom"}`),
	})
	if err != nil {
		t.Fatalf("encodeMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected user, assistant and folded tool results, got %d messages", len(msgs))
	}
	if got := len(msgs[2].Content); got != 2 {
		t.Fatalf("expected 2 tool results in one turn, got %d", got)
	}
	if msgs[2].Role != sdk.MessageParamRoleUser {
		t.Fatalf("tool results must be sent as user turn, got %q", msgs[2].Role)
	}
}

func TestComplete_ToolChoiceNone(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cl.Complete(context.Background(), &model.Request{
		Messages:   []*model.Message{model.Text(model.ConversationRoleUser, "hi")},
		Tools:      []*model.ToolDefinition{{Name: "searchBooks", Description: "Search"}},
		ToolChoice: model.ToolChoiceNone,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if stub.lastParams.ToolChoice.OfNone == nil {
		t.Fatalf("expected tool choice none")
	}
}

func TestComplete_RequiresMaxTokens(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cl.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{model.Text(model.ConversationRoleUser, "hi")},
	})
	if err == nil {
		t.Fatalf("expected max_tokens error")
	}
}

func TestComplete_PropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	stub := &stubMessagesClient{err: boom}
	cl, err := New(stub, Options{
		DefaultModel: "claude-sonnet-4-5",
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{model.Text(model.ConversationRoleUser, "hi")},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}
