package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CursorVersion is the only cursor envelope version this build
// understands.
const CursorVersion = 1

// MaxInlineCursorChars is the size above which a cursor's payload is
// parked in the cursor store and a thin stored cursor returned
// instead.
const MaxInlineCursorChars = 8 * 1024

// Cursor is the tagged continuation envelope. Every cursor carries
// {v, tool, root_hash}; per-tool state rides in State. A stored cursor
// carries StoreID instead of State.
type Cursor struct {
	V        int             `json:"v"`
	Tool     string          `json:"tool"`
	Mode     string          `json:"mode,omitempty"`
	Root     string          `json:"root,omitempty"`
	RootHash string          `json:"root_hash"`
	StoreID  string          `json:"store_id,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
}

// EncodeCursor serializes a cursor as base64url (no padding) JSON.
func EncodeCursor(c *Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a cursor token. Decode failures are invalid
// cursors, never internal errors, and never expose parser output.
func DecodeCursor(token string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, NewToolError(CodeInvalidCursor, "cursor is not valid base64url")
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, NewToolError(CodeInvalidCursor, "cursor payload is not valid JSON")
	}
	return &c, nil
}

// issueCursor encodes a cursor, parking oversized payloads in the
// store and returning the thin stored shape instead.
func (s *ServiceState) issueCursor(c *Cursor) (string, error) {
	token, err := EncodeCursor(c)
	if err != nil {
		return "", err
	}
	if len(token) <= MaxInlineCursorChars {
		return token, nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	thin := &Cursor{
		V:        c.V,
		Tool:     c.Tool,
		Mode:     c.Mode,
		Root:     c.Root,
		RootHash: c.RootHash,
		StoreID:  s.cursors.Put(payload),
	}
	return EncodeCursor(thin)
}

// expandCursor resolves a stored cursor back to its full payload.
func (s *ServiceState) expandCursor(c *Cursor) (*Cursor, error) {
	if c.StoreID == "" {
		return c, nil
	}
	payload, ok := s.cursors.Get(c.StoreID)
	if !ok {
		return nil, NewToolError(CodeInvalidCursor, "stored cursor expired").
			WithDetail("store_id", c.StoreID)
	}
	var full Cursor
	if err := json.Unmarshal(payload, &full); err != nil {
		return nil, NewToolError(CodeInvalidCursor, "stored cursor payload is corrupt")
	}
	return &full, nil
}

// validateCursor checks version, tool, and root binding. A root
// mismatch reports both fingerprints so the agent can see which root
// the cursor belonged to.
func validateCursor(c *Cursor, tool, rootHash string) *ToolError {
	if c.V != CursorVersion {
		return NewToolError(CodeInvalidCursor, fmt.Sprintf("unsupported cursor version %d", c.V)).
			WithDetail("expected_version", fmt.Sprintf("%d", CursorVersion))
	}
	if c.Tool != tool {
		return NewToolError(CodeInvalidCursor, "cursor belongs to a different tool").
			WithDetail("expected_tool", tool).
			WithDetail("cursor_tool", c.Tool)
	}
	if c.RootHash != rootHash {
		return NewToolError(CodeInvalidCursor, "cursor belongs to a different project root").
			WithDetail("expected_root_fingerprint", rootHash).
			WithDetail("cursor_root_fingerprint", c.RootHash)
	}
	return nil
}

// resolveCursor decodes, expands, and validates a cursor token, then
// unmarshals its per-tool state into state (a pointer) when non-nil.
func (s *ServiceState) resolveCursor(token, tool, rootHash string, state any) error {
	c, err := DecodeCursor(token)
	if err != nil {
		return err
	}
	c, err = s.expandCursor(c)
	if err != nil {
		return err
	}
	if te := validateCursor(c, tool, rootHash); te != nil {
		return te
	}
	if state != nil && len(c.State) > 0 {
		if err := json.Unmarshal(c.State, state); err != nil {
			return NewToolError(CodeInvalidCursor, "cursor state does not match this tool's shape")
		}
	}
	return nil
}
