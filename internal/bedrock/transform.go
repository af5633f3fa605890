package bedrock

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/tombii/better-ccflare/internal/usage"
)

// ConverseRequest is the SDK-ready form of an Anthropic Messages request.
type ConverseRequest struct {
	ModelID   string
	Messages  []types.Message
	System    []types.SystemContentBlock
	Inference *types.InferenceConfiguration
	Streaming bool
}

// ParseRequest converts an Anthropic Messages body into Converse inputs.
// Only text content survives: blocks are trimmed, empty blocks dropped, and
// a message left with no content is an error. Parameters Converse cannot
// express (top_k, metadata) are logged and stripped.
func ParseRequest(body []byte, log zerolog.Logger) (*ConverseRequest, error) {
	src := gjson.ParseBytes(body)
	if !src.IsObject() {
		return nil, fmt.Errorf("bedrock: request body is not a JSON object")
	}

	req := &ConverseRequest{
		ModelID:   src.Get("model").String(),
		Streaming: src.Get("stream").Bool(),
	}

	var err error
	src.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		var converted types.Message
		converted, err = convertMessage(msg)
		if err != nil {
			return false
		}
		req.Messages = append(req.Messages, converted)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("bedrock: request has no messages")
	}

	req.System = convertSystem(src.Get("system"))
	req.Inference = inferenceConfig(src)

	for _, dropped := range []string{"top_k", "metadata"} {
		if src.Get(dropped).Exists() {
			log.Warn().Str("parameter", dropped).Msg("parameter not supported by bedrock converse, stripped")
		}
	}

	return req, nil
}

func convertMessage(msg gjson.Result) (types.Message, error) {
	role := types.ConversationRoleUser
	if msg.Get("role").String() == "assistant" {
		role = types.ConversationRoleAssistant
	}

	var blocks []types.ContentBlock
	content := msg.Get("content")
	if content.Type == gjson.String {
		if text := strings.TrimSpace(content.Str); text != "" {
			blocks = append(blocks, &types.ContentBlockMemberText{Value: text})
		}
	} else {
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() != "text" {
				return true
			}
			if text := strings.TrimSpace(block.Get("text").String()); text != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: text})
			}
			return true
		})
	}

	if len(blocks) == 0 {
		return types.Message{}, fmt.Errorf("bedrock: %s message has no usable text content", msg.Get("role").String())
	}
	return types.Message{Role: role, Content: blocks}, nil
}

func convertSystem(system gjson.Result) []types.SystemContentBlock {
	if !system.Exists() {
		return nil
	}

	if system.Type == gjson.String {
		if system.Str == "" {
			return nil
		}
		return []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system.Str}}
	}

	var out []types.SystemContentBlock
	system.ForEach(func(_, block gjson.Result) bool {
		if text := block.Get("text").String(); text != "" {
			out = append(out, &types.SystemContentBlockMemberText{Value: text})
		}
		return true
	})
	return out
}

func inferenceConfig(src gjson.Result) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	set := false

	if v := src.Get("max_tokens"); v.Exists() {
		cfg.MaxTokens = aws.Int32(int32(v.Int()))
		set = true
	}
	if v := src.Get("temperature"); v.Exists() {
		cfg.Temperature = aws.Float32(float32(v.Float()))
		set = true
	}
	if v := src.Get("top_p"); v.Exists() {
		cfg.TopP = aws.Float32(float32(v.Float()))
		set = true
	}
	if v := src.Get("stop_sequences"); v.IsArray() {
		for _, s := range v.Array() {
			cfg.StopSequences = append(cfg.StopSequences, s.String())
		}
		set = true
	}

	if !set {
		return nil
	}
	return cfg
}

// Input builds the non-streaming SDK input.
func (r *ConverseRequest) Input() *bedrockruntime.ConverseInput {
	return &bedrockruntime.ConverseInput{
		ModelId:         aws.String(r.ModelID),
		Messages:        r.Messages,
		System:          r.System,
		InferenceConfig: r.Inference,
	}
}

// StreamInput builds the streaming SDK input.
func (r *ConverseRequest) StreamInput() *bedrockruntime.ConverseStreamInput {
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(r.ModelID),
		Messages:        r.Messages,
		System:          r.System,
		InferenceConfig: r.Inference,
	}
}

// anthropicStopReason maps Converse stop reasons onto Anthropic ones.
func anthropicStopReason(reason types.StopReason) string {
	switch reason {
	case types.StopReasonEndTurn:
		return "end_turn"
	case types.StopReasonMaxTokens:
		return "max_tokens"
	case types.StopReasonStopSequence:
		return "stop_sequence"
	case types.StopReasonToolUse:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// TranslateResponse renders a Converse result as an Anthropic message body
// and reports the token usage it carried.
func TranslateResponse(out *bedrockruntime.ConverseOutput, clientModel string) ([]byte, usage.Info, error) {
	var content []map[string]any
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				content = append(content, map[string]any{"type": "text", "text": text.Value})
			}
		}
	}

	info := usage.Info{Model: clientModel}
	envelope := map[string]any{
		"id":            fmt.Sprintf("msg_%d", time.Now().UnixMilli()),
		"type":          "message",
		"role":          "assistant",
		"model":         clientModel,
		"content":       content,
		"stop_reason":   anthropicStopReason(out.StopReason),
		"stop_sequence": nil,
	}

	if u := out.Usage; u != nil {
		info.InputTokens = int64(aws.ToInt32(u.InputTokens))
		info.OutputTokens = int64(aws.ToInt32(u.OutputTokens))
		envelope["usage"] = map[string]any{
			"input_tokens":  info.InputTokens,
			"output_tokens": info.OutputTokens,
		}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, usage.Info{}, fmt.Errorf("bedrock: encode response: %w", err)
	}
	return body, info, nil
}
