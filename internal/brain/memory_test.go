package brain

import (
	"context"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedding is a deterministic stand-in for a real embedding model: texts
// sharing words land near each other.
func hashEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range word {
			h = h*31 + int(r)
		}
		vec[((h%64)+64)%64] += 1
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / float32(sqrt64(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func sqrt64(x float64) float64 {
	if x <= 0 {
		return 0
	}
	guess := x
	for i := 0; i < 20; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess
}

func openTestMemory(t *testing.T) *Memory {
	t.Helper()
	mem, err := open(Config{}, chromem.EmbeddingFunc(hashEmbedding), nil)
	require.NoError(t, err)
	return mem
}

func TestStoreAndQuery(t *testing.T) {
	mem := openTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.StoreConversation(ctx, "s1", "discussed garden irrigation schedules"))
	require.NoError(t, mem.StoreConversation(ctx, "s2", "debugged the payment service timeout"))
	assert.Equal(t, 2, mem.Count())

	fragments, err := mem.QueryMemory(ctx, "garden irrigation", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, fragments)
	assert.Contains(t, fragments[0].Content, "garden")
	assert.Equal(t, "s1", fragments[0].Metadata["session_id"])
}

func TestQueryEmptyStore(t *testing.T) {
	mem := openTestMemory(t)
	fragments, err := mem.QueryMemory(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestStoreSkipsEmptyContent(t *testing.T) {
	mem := openTestMemory(t)
	require.NoError(t, mem.StoreConversation(context.Background(), "s1", ""))
	assert.Equal(t, 0, mem.Count())
}

func TestMinSimilarityFilter(t *testing.T) {
	mem := openTestMemory(t)
	ctx := context.Background()
	require.NoError(t, mem.StoreConversation(ctx, "s1", "completely unrelated topic zebra"))

	fragments, err := mem.QueryMemory(ctx, "quantum chromodynamics lattice", 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}
