package corpus

import (
	"testing"

	"github.com/liliang-cn/solace/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMultipleColumns(t *testing.T) {
	c := domain.Corpus{Name: "Amod/mental_health_counseling_conversations", TextColumns: []string{"Context", "Response"}}
	rec := Record{
		"Context":  "  I feel   anxious\nall the time. ",
		"Response": "That sounds exhausting.",
		"topic":    "anxiety",
		"votes":    float64(3),
		"tags":     []any{"a", "b"},
	}

	text, meta, ok := Normalize(c, "train", rec, 10)
	require.True(t, ok)
	assert.Equal(t, "Context: I feel anxious all the time. Response: That sounds exhausting.", text)
	assert.Equal(t, map[string]any{
		"topic":                   "anxiety",
		"votes":                   float64(3),
		"tags":                    `["a","b"]`,
		domain.MetadataKeySource: c.Name,
		domain.MetadataKeySplit:  "train",
	}, meta)
}

func TestNormalizeSkipsMissingAndEmptyColumns(t *testing.T) {
	c := domain.Corpus{Name: "ShenLab/MentalChat16K", TextColumns: []string{"instruction", "input", "output"}}
	rec := Record{"instruction": "Be kind to the user", "input": "", "output": "I'm here for you"}

	text, meta, ok := Normalize(c, "train", rec, 10)
	require.True(t, ok)
	assert.Equal(t, "instruction: Be kind to the user output: I'm here for you", text)
	assert.NotContains(t, meta, "input")
}

func TestNormalizeSingleColumn(t *testing.T) {
	c := domain.Corpus{Name: "dair-ai/emotion", TextColumn: "text"}

	text, meta, ok := Normalize(c, "validation", Record{"text": "i feel rather hopeful today", "label": float64(1)}, 10)
	require.True(t, ok)
	assert.Equal(t, "i feel rather hopeful today", text)
	assert.Equal(t, float64(1), meta["label"])
	assert.Equal(t, "validation", meta[domain.MetadataKeySplit])

	_, _, ok = Normalize(c, "train", Record{"text": float64(42)}, 10)
	assert.False(t, ok, "non-string text is dropped")

	_, _, ok = Normalize(c, "train", Record{"label": float64(1)}, 10)
	assert.False(t, ok, "missing column is dropped")
}

func TestNormalizeMinimumLength(t *testing.T) {
	c := domain.Corpus{Name: "dair-ai/emotion", TextColumn: "text"}

	_, _, ok := Normalize(c, "train", Record{"text": "   short   "}, 10)
	assert.False(t, ok)

	_, _, ok = Normalize(c, "train", Record{"text": "          "}, 10)
	assert.False(t, ok)

	// length is counted in characters, not bytes
	_, _, ok = Normalize(c, "train", Record{"text": "héllo wörl"}, 10)
	assert.True(t, ok)
	_, _, ok = Normalize(c, "train", Record{"text": "héllo wör"}, 10)
	assert.False(t, ok)
}
