// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_Marshal(t *testing.T) {
	data, err := json.Marshal(NewStringRequestID("abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `"abc"`, string(data))

	data, err = json.Marshal(NewNumericRequestID(42))
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(data))

	var null *RequestID
	data, err = json.Marshal(null)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestRequestID_Unmarshal(t *testing.T) {
	var id RequestID
	require.NoError(t, json.Unmarshal([]byte(`"req-1"`), &id))
	require.NotNil(t, id.Str)
	assert.Equal(t, "req-1", *id.Str)
	assert.Equal(t, "req-1", id.String())

	id = RequestID{}
	require.NoError(t, json.Unmarshal([]byte(`7`), &id))
	require.NotNil(t, id.Num)
	assert.Equal(t, int64(7), *id.Num)
	assert.Equal(t, "7", id.String())

	id = RequestID{}
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Nil(t, id.Str)
	assert.Nil(t, id.Num)

	id = RequestID{}
	assert.Error(t, json.Unmarshal([]byte(`{"bad":1}`), &id))
}

func TestValidateRequest(t *testing.T) {
	req := &Request{JSONRPC: "2.0", Method: "ping"}
	assert.NoError(t, ValidateRequest(req))

	assert.Error(t, ValidateRequest(&Request{JSONRPC: "1.0", Method: "ping"}))
	assert.Error(t, ValidateRequest(&Request{JSONRPC: "2.0"}))
}

func TestValidateResponse(t *testing.T) {
	id := NewNumericRequestID(1)
	ok := &Response{JSONRPC: "2.0", ID: id, Result: json.RawMessage(`{}`)}
	assert.NoError(t, ValidateResponse(ok))

	errResp := &Response{JSONRPC: "2.0", ID: id, Error: NewError(InternalError, "boom", nil)}
	assert.NoError(t, ValidateResponse(errResp))

	assert.Error(t, ValidateResponse(&Response{JSONRPC: "2.0", ID: id}),
		"neither result nor error")
	assert.Error(t, ValidateResponse(&Response{
		JSONRPC: "2.0", ID: id,
		Result: json.RawMessage(`{}`),
		Error:  NewError(InternalError, "boom", nil),
	}), "both result and error")
	assert.Error(t, ValidateResponse(&Response{JSONRPC: "2.0", Result: json.RawMessage(`{}`)}),
		"missing ID")
}

func TestValidateToolArguments(t *testing.T) {
	tool := Tool{
		Name: "ask",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"prompt":     map[string]interface{}{"type": "string"},
				"max_tokens": map[string]interface{}{"type": "integer", "minimum": 1},
			},
			"required": []interface{}{"prompt"},
		},
	}

	assert.NoError(t, ValidateToolArguments(tool, map[string]interface{}{"prompt": "hi"}))

	err := ValidateToolArguments(tool, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")

	err = ValidateToolArguments(tool, map[string]interface{}{"prompt": "hi", "max_tokens": "lots"})
	assert.Error(t, err)

	// No schema means no validation.
	assert.NoError(t, ValidateToolArguments(Tool{Name: "free"}, map[string]interface{}{"anything": 1}))
}

func TestErrorString(t *testing.T) {
	e := NewError(MethodNotFound, "no such method", map[string]string{"method": "x"})
	assert.Contains(t, e.Error(), "-32601")
	assert.Contains(t, e.Error(), "no such method")
	assert.Contains(t, e.Error(), "data:")
}
