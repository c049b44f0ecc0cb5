package ai

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *ClientConfig
		wantErr bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:    "unsupported provider",
			config:  &ClientConfig{Provider: Provider("mystery")},
			wantErr: true,
		},
		{
			name:    "stub provider",
			config:  &ClientConfig{Provider: ProviderStub, Dim: 4},
			wantErr: false,
		},
		{
			name:    "openai provider",
			config:  &ClientConfig{Provider: ProviderOpenAI, APIKey: "sk-test"},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(context.Background(), tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Fatal("NewClient() returned nil client without error")
			}
		})
	}
}

func TestStubClientEmbedDeterministic(t *testing.T) {
	c := NewStubClient(16)
	a, err := c.Embed(context.Background(), "ROS 2 is a robotics framework")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := c.Embed(context.Background(), "ROS 2 is a robotics framework")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical text produced different vectors:\n%v\n%v", a, b)
	}
	if len(a) != 16 {
		t.Errorf("expected dim 16, got %d", len(a))
	}
}

func TestStubClientEmbedNormalized(t *testing.T) {
	c := NewStubClient(8)
	vec, err := c.Embed(context.Background(), "localization and mapping")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("expected unit vector, squared norm = %f", norm)
	}
}

func TestStubClientDefaults(t *testing.T) {
	c := NewStubClient(0)
	if c.Dim() <= 0 {
		t.Errorf("expected positive default dim, got %d", c.Dim())
	}
	if c.EmbedModel() != "stub" {
		t.Errorf("expected model 'stub', got %q", c.EmbedModel())
	}
}

func TestOpenAIClientDefaults(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{APIKey: "sk-test"})
	if c.EmbedModel() != "text-embedding-3-small" {
		t.Errorf("unexpected default embed model: %q", c.EmbedModel())
	}
	if c.Dim() != 1536 {
		t.Errorf("unexpected default dim: %d", c.Dim())
	}

	large := NewOpenAIClient(&ClientConfig{APIKey: "sk-test", EmbedModel: "text-embedding-3-large"})
	if large.Dim() != 3072 {
		t.Errorf("unexpected dim for large model: %d", large.Dim())
	}
}

func TestOpenAIClientRequiresKey(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{})
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error for missing API key on Embed")
	}
	if _, err := c.Generate(context.Background(), "sys", "prompt"); err == nil {
		t.Error("expected error for missing API key on Generate")
	}
}
