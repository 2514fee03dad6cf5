package provider

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFailures_DropInvalidRawBodies(t *testing.T) {
	b := NewBase("stub", Settings{APIKey: "k"}, nil)
	decodeErr := errors.New("unexpected character")

	tests := []struct {
		name string
		body []byte
		fail func(body []byte) error
	}{
		{
			name: "decode failure with html body",
			body: []byte("<html>oops</html>"),
			fail: func(body []byte) error {
				resp := b.DecodeFailure(200, body, decodeErr)
				return checkEncodable(resp.Raw)
			},
		},
		{
			name: "vendor failure with truncated body",
			body: []byte(`{"error": {"message": "boom"`),
			fail: func(body []byte) error {
				resp := b.VendorFailure(502, body, nil)
				return checkEncodable(resp.Raw)
			},
		},
		{
			name: "decode failure keeps valid json",
			body: []byte(`{"choices": "not a list"}`),
			fail: func(body []byte) error {
				resp := b.DecodeFailure(200, body, decodeErr)
				if len(resp.Raw) == 0 {
					return errors.New("valid JSON body must be kept")
				}
				return checkEncodable(resp.Raw)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fail(tt.body); err != nil {
				t.Fatal(err)
			}
		})
	}
}

// checkEncodable marshals raw the way the HTTP layer embeds it.
func checkEncodable(raw json.RawMessage) error {
	_, err := json.Marshal(map[string]any{"ok": false, "raw": raw})
	return err
}
