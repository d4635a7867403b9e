package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnhanceRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     EnhanceRequest
		wantErr error
	}{
		{
			name:    "minimal valid request",
			req:     EnhanceRequest{Text: "Explain recursion"},
			wantErr: nil,
		},
		{
			name:    "empty text",
			req:     EnhanceRequest{Text: ""},
			wantErr: ErrEmptyText,
		},
		{
			name:    "whitespace only text",
			req:     EnhanceRequest{Text: "   \n\t  "},
			wantErr: ErrEmptyText,
		},
		{
			name:    "text over limit",
			req:     EnhanceRequest{Text: strings.Repeat("a", MaxPromptLen+1)},
			wantErr: ErrTextTooLong,
		},
		{
			name:    "text at limit",
			req:     EnhanceRequest{Text: strings.Repeat("a", MaxPromptLen)},
			wantErr: nil,
		},
		{
			name:    "unknown intent override",
			req:     EnhanceRequest{Text: "hi", Intent: "fortune_telling"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "valid intent override",
			req:     EnhanceRequest{Text: "hi", Intent: "translation"},
			wantErr: nil,
		},
		{
			name:    "invalid complexity",
			req:     EnhanceRequest{Text: "hi", Complexity: "impossible"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "temperature above range",
			req:     EnhanceRequest{Text: "hi", Temperature: floatPtr(2.5)},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "temperature zero is legal",
			req:     EnhanceRequest{Text: "hi", Temperature: floatPtr(0)},
			wantErr: nil,
		},
		{
			name:    "max tokens above ceiling",
			req:     EnhanceRequest{Text: "hi", MaxTokens: intPtr(9000)},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestEnhanceRequestNormalize(t *testing.T) {
	req := EnhanceRequest{Text: "  Explain recursion  "}
	req.Normalize()

	assert.Equal(t, "Explain recursion", req.Text)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, DefaultMaxTokens, *req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, DefaultTemperature, *req.Temperature)
}

func TestEnhanceRequestNormalizeKeepsExplicitValues(t *testing.T) {
	req := EnhanceRequest{Text: "hi", MaxTokens: intPtr(512), Temperature: floatPtr(0)}
	req.Normalize()

	assert.Equal(t, 512, *req.MaxTokens)
	assert.Equal(t, 0.0, *req.Temperature)
}

func TestBatchRequestValidate(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		b := BatchRequest{}
		err := b.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("batch at cap", func(t *testing.T) {
		b := BatchRequest{Prompts: make([]EnhanceRequest, MaxBatchPrompts)}
		assert.NoError(t, b.Validate())
	})

	t.Run("batch over cap", func(t *testing.T) {
		b := BatchRequest{Prompts: make([]EnhanceRequest, MaxBatchPrompts+1)}
		err := b.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBatchTooLarge))
	})
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
