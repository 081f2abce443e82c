package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply  string
	err    error
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestReplyForwardsSoleUserTurn(t *testing.T) {
	ctx := context.Background()
	fake := &fakeChatModel{reply: "world"}
	svc, err := NewService(ctx, fake)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	got, err := svc.Reply(ctx, "hello {name}")
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if got != "world" {
		t.Fatalf("expected world, got %q", got)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(fake.inputs))
	}
	input := fake.inputs[0]
	if len(input) != 1 {
		t.Fatalf("expected a single message, got %d", len(input))
	}
	if input[0].Role != schema.User || input[0].Content != "hello {name}" {
		t.Fatalf("unexpected message %+v", input[0])
	}
}

func TestReplyPropagatesUpstreamError(t *testing.T) {
	ctx := context.Background()
	fake := &fakeChatModel{err: errors.New("boom")}
	svc, err := NewService(ctx, fake)
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	if _, err := svc.Reply(ctx, "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(fake.inputs))
	}
}

func TestUnavailableModelFails(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(ctx, Unavailable(errors.New("no credential")))
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}

	if _, err := svc.Reply(ctx, "hello"); err == nil {
		t.Fatal("expected error from unavailable model")
	}
}

func TestNewServiceRequiresModel(t *testing.T) {
	if _, err := NewService(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil model")
	}
}
