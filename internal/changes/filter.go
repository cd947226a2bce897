package changes

import (
	"encoding/json"
	"fmt"
)

// descriptor mirrors the single envelope field filtering reasons about;
// everything else in a change descriptor stays opaque.
type descriptor struct {
	Private []string `json:"private"`
}

// Filter applies per-descriptor privacy filtering to a raw change payload.
// Sysadmins and payloads without any private descriptor pass through
// byte-for-byte. Otherwise each descriptor survives iff it carries no
// private audience or that audience intersects roles (a JSON null private
// counts as absent). The second return is false when nothing survives:
// the whole message is dropped, never sent as an empty envelope.
func Filter(payload []byte, roles RoleSet) ([]byte, bool, error) {
	if roles.Has(RoleSysadmin) {
		return payload, true, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, false, fmt.Errorf("change payload: %w", err)
	}
	keep := make([]json.RawMessage, 0, len(items))
	restricted := false
	for _, item := range items {
		var d descriptor
		if err := json.Unmarshal(item, &d); err != nil {
			return nil, false, fmt.Errorf("change descriptor: %w", err)
		}
		if d.Private == nil {
			keep = append(keep, item)
			continue
		}
		restricted = true
		if roles.Intersects(d.Private) {
			keep = append(keep, item)
		}
	}
	if !restricted {
		return payload, true, nil
	}
	if len(keep) == 0 {
		return nil, false, nil
	}
	out, err := json.Marshal(keep)
	if err != nil {
		return nil, false, fmt.Errorf("filtered payload: %w", err)
	}
	return out, true, nil
}
