package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/cravings/internal/embedding"
)

type fakeInvoker struct {
	bodies [][]byte
	reply  []byte
	err    error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.bodies = append(f.bodies, in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.reply}, nil
}

func TestEmbed_SendsTitanPayload(t *testing.T) {
	fake := &fakeInvoker{reply: []byte(`{"embedding":[0.5,0.25],"inputTextTokenCount":3}`)}
	c := newWithInvoker(fake, "us-east-1", "", 768)

	vec, err := c.Embed(context.Background(), "iced mocha")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
	assert.Equal(t, DefaultEmbeddingModel, c.ModelID())

	var sent TitanEmbeddingRequest
	require.NoError(t, json.Unmarshal(fake.bodies[0], &sent))
	assert.Equal(t, "iced mocha", sent.InputText)
	assert.Equal(t, 768, sent.Dimensions)
	assert.True(t, sent.Normalize)
}

func TestEmbed_Errors(t *testing.T) {
	c := newWithInvoker(&fakeInvoker{reply: []byte(`{"embedding":[]}`)}, "", "", 0)
	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)

	_, err = c.Embed(context.Background(), "")
	require.Error(t, err)

	c = newWithInvoker(&fakeInvoker{err: errors.New("throttled")}, "", "", 0)
	_, err = c.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestEmbedBatch_OnePerText(t *testing.T) {
	fake := &fakeInvoker{reply: []byte(`{"embedding":[1]}`)}
	c := newWithInvoker(fake, "", "", 0)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	assert.Len(t, fake.bodies, 3)
}

func TestComplete_SplitsSystemPrompt(t *testing.T) {
	fake := &fakeInvoker{reply: []byte(`{"content":[{"type":"text","text":"{}"}]}`)}
	c := newWithInvoker(fake, "", DefaultChatModel, 0)

	out, err := c.Complete(context.Background(), []embedding.ChatMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hot n spicy"},
	})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)

	var sent ChatRequest
	require.NoError(t, json.Unmarshal(fake.bodies[0], &sent))
	assert.Equal(t, "be terse", sent.System)
	assert.Equal(t, "bedrock-2023-05-31", sent.AnthropicVersion)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "user", sent.Messages[0].Role)

	_, err = c.Complete(context.Background(), []embedding.ChatMessage{{Role: "system", Content: "x"}})
	require.Error(t, err)
}

func TestSharedClientPool(t *testing.T) {
	cfg := aws.Config{Region: "us-east-1"}
	a := GetSharedBedrockClient(cfg, "m1", 256)
	b := GetSharedBedrockClient(cfg, "m1", 256)
	c := GetSharedBedrockClient(cfg, "m2", 256)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "us-east-1", a.GetRegion())
}
