package consensus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is returned when a model response contains no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in response")

// extractJSONObject pulls the first balanced {...} object out of raw text,
// tolerating markdown fences and prose around it.
func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		} else {
			s = rest
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}

// parseActionResponse parses one model's raw output into a decision. A
// response without an action name is a parse failure, not a decision.
func parseActionResponse(raw string) (*ActionResponse, error) {
	body, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var resp ActionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("parse action response: %w", err)
	}
	if resp.Action == "" {
		return nil, errors.New("action response missing action")
	}
	return &resp, nil
}

// voteKey canonicalizes a proposal for tallying: the action name plus its
// params re-marshaled with sorted keys, so semantically identical proposals
// land in the same bucket regardless of key order.
func voteKey(resp *ActionResponse) string {
	params, err := json.Marshal(resp.Params)
	if err != nil {
		params = []byte("{}")
	}
	return resp.Action + "|" + string(params)
}

// tally counts proposals and picks a winner. Ties break deterministically in
// favor of the bucket first proposed by the lowest-index model in the pool.
// strictMajority reports whether the winner carried more than half of the
// parsed proposals.
func tally(outcomes []modelOutcome) (winner *ActionResponse, strictMajority bool, found bool) {
	type bucket struct {
		resp     *ActionResponse
		count    int
		firstIdx int
	}
	buckets := map[string]*bucket{}
	parsed := 0
	for i, o := range outcomes {
		if o.Response == nil {
			continue
		}
		parsed++
		key := voteKey(o.Response)
		b, ok := buckets[key]
		if !ok {
			buckets[key] = &bucket{resp: o.Response, count: 1, firstIdx: i}
			continue
		}
		b.count++
	}
	if parsed == 0 {
		return nil, false, false
	}

	var best *bucket
	for _, b := range buckets {
		if best == nil || b.count > best.count ||
			(b.count == best.count && b.firstIdx < best.firstIdx) {
			best = b
		}
	}
	return best.resp, best.count*2 > parsed, true
}
