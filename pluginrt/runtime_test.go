package pluginrt

import (
	"context"
	"testing"
	"time"
)

// echoRuntime immediately "delivers" a canned reply on Send, simulating a
// plugin process that replies instantly.
type echoRuntime struct {
	caller *Caller
	reply  func(id string, req any) any
}

func (e *echoRuntime) Send(_ context.Context, id string, req any) error {
	go e.caller.Deliver(id, e.reply(id, req))
	return nil
}

func TestCaller_CallTemplateFunction(t *testing.T) {
	c := &Caller{}
	rt := &echoRuntime{caller: c, reply: func(id string, req any) any {
		return &CallTemplateFunctionResponse{ID: id, Value: "hello"}
	}}
	c.rt = rt

	resp, err := c.CallTemplateFunction(context.Background(), CallTemplateFunctionRequest{
		ID:   "req-1",
		Name: "uppercase",
	}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Value != "hello" {
		t.Errorf("got %q, want hello", resp.Value)
	}
}

func TestCaller_TimesOutOnNonResponse(t *testing.T) {
	c := &Caller{}
	rt := &blackholeRuntime{}
	c.rt = rt

	_, err := c.CallTemplateFunction(context.Background(), CallTemplateFunctionRequest{ID: "req-2"}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestCaller_PropagatesPluginError(t *testing.T) {
	c := &Caller{}
	rt := &echoRuntime{caller: c, reply: func(id string, req any) any {
		return &ErrorResponse{ID: id, Error: "boom"}
	}}
	c.rt = rt

	_, err := c.CallTemplateFunction(context.Background(), CallTemplateFunctionRequest{ID: "req-3"}, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
}

type blackholeRuntime struct{}

func (blackholeRuntime) Send(context.Context, string, any) error { return nil }
