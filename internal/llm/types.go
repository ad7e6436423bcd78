package llm

// Message is one entry in the chat transcript sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is a JSON-schema object describing a function's parameters.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single parameter.
type SchemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// FunctionDef is a callable action registered with the model. The model
// may select it instead of replying in free text.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// ChatRequest is a single chat-completion call.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	Functions   []FunctionDef `json:"functions,omitempty"`
	Temperature float64       `json:"temperature"`
}

// FunctionCallRaw is the model's selected action before argument parsing.
// Arguments is the raw JSON string exactly as the model produced it; the
// caller owns repairing and validating it.
type FunctionCallRaw struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResult is the model's answer: either free text in Content or a
// selected callable action in FunctionCall (Content may then be empty).
type ChatResult struct {
	Content      string
	FunctionCall *FunctionCallRaw
}

// chatResponse is the wire shape of a completion response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role         string           `json:"role"`
			Content      string           `json:"content"`
			FunctionCall *FunctionCallRaw `json:"function_call"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
