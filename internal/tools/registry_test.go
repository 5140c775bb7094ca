package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "echoes its input",
		Category:    CategoryGeneral,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
		Schema: Schema{Required: []string{"text"}},
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	err := r.Register(echoTool())
	assert.ErrorIs(t, err, ErrToolAlreadyRegistered)
}

func TestRegisterDefaultsPriority(t *testing.T) {
	r := NewRegistry()
	tool := echoTool()
	require.NoError(t, r.Register(tool))
	assert.Equal(t, 50, tool.Priority)
}

func TestExecuteUnknownToolReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteRejectsMissingRequiredArg(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	_, err := r.Execute(context.Background(), "echo", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingRequiredArg)
}

func TestExecuteRunsToolAndReportsDuration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))
	result, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Output)
	assert.True(t, result.IsSuccess())
}

func TestGetByCategoryOrdersByPriorityDescending(t *testing.T) {
	r := NewRegistry()
	low := echoTool()
	low.Name = "low"
	low.Priority = 10
	high := echoTool()
	high.Name = "high"
	high.Priority = 90
	require.NoError(t, r.Register(low))
	require.NoError(t, r.Register(high))

	ordered := r.GetByCategory(CategoryGeneral)
	require.Len(t, ordered, 2)
	assert.Equal(t, "high", ordered[0].Name)
	assert.Equal(t, "low", ordered[1].Name)
}
