package schema

import "testing"

func TestValidateNotification(t *testing.T) {
	v := Default()
	valid := []string{
		`{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hi"}}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"tool_call","toolCallId":"t1","title":"Read file","status":"pending"}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"tool_call","toolCallId":"t2","title":"Think","kind":null,"status":null}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"tool_call_update","toolCallId":"t1","title":null,"status":"completed"}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"plan","entries":[{"content":"step","priority":"high","status":"pending"}]}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"current_mode_update","currentModeId":"code"}}`,
	}
	for _, raw := range valid {
		if err := v.ValidateNotification([]byte(raw)); err != nil {
			t.Fatalf("expected %s to be valid, got %v", raw, err)
		}
	}

	invalid := []string{
		`not json`,
		`{"update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hi"}}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"mystery"}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"agent_message_chunk"}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"tool_call_update","status":"done"}}`,
		`{"sessionId":"s1","update":{"sessionUpdate":"tool_call","toolCallId":"t1","title":"x","status":"exploded"}}`,
	}
	for _, raw := range invalid {
		if err := v.ValidateNotification([]byte(raw)); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}

func TestValidatePromptResponse(t *testing.T) {
	v := Default()
	if err := v.ValidatePromptResponse([]byte(`{"stopReason":"end_turn","usage":{"totalTokens":3,"inputTokens":1,"outputTokens":2}}`)); err != nil {
		t.Fatalf("expected valid response, got %v", err)
	}
	if err := v.ValidatePromptResponse([]byte(`{"stopReason":"cancelled"}`)); err != nil {
		t.Fatalf("expected response without usage to be valid, got %v", err)
	}
	if err := v.ValidatePromptResponse([]byte(`{"stopReason":"end_turn","usage":{"totalTokens":"many"}}`)); err == nil {
		t.Fatalf("expected malformed usage to be rejected")
	}
	if err := v.ValidatePromptResponse([]byte(`{"stopReason":"gave_up"}`)); err == nil {
		t.Fatalf("expected unknown stop reason to be rejected")
	}
}
