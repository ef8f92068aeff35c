package api

import "github.com/samcharles93/lorallama/internal/model"

// ForwardRequest runs one forward pass. Model may be empty when the server
// has a default model.
type ForwardRequest struct {
	Model    string `json:"model,omitempty"`
	Tokens   []int  `json:"tokens"`
	StartPos int    `json:"start_pos,omitempty"`
	// TopK adds the k best tokens per position to the response.
	TopK int `json:"top_k,omitempty"`
	// OmitLogits drops the full logits matrix, useful with TopK.
	OmitLogits bool `json:"omit_logits,omitempty"`
}

type ForwardResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Shape   []int               `json:"shape"`
	Logits  [][]float32         `json:"logits,omitempty"`
	Top     [][]model.Candidate `json:"top,omitempty"`
}

type ModelInfo struct {
	ID     string       `json:"id"`
	Object string       `json:"object"`
	Config model.Config `json:"config"`
	// Tensors is the number of named weights the model was built from.
	Tensors int `json:"tensors"`
}

type ModelList struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}
