package streams

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParseEventSignature parses "Name(type [indexed] name, ...)" into an event
// schema whose topic is keccak256 of the canonical signature "Name(type,...)".
func ParseEventSignature(sig string) (EventSchema, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return EventSchema{}, fmt.Errorf("%w: malformed event signature %q", ErrInvalidSchema, sig)
	}
	name := sig[:open]
	body := strings.TrimSpace(sig[open+1 : len(sig)-1])

	var params []EventParameter
	var types []string
	if body != "" {
		for _, part := range strings.Split(body, ",") {
			tokens := strings.Fields(part)
			var p EventParameter
			switch {
			case len(tokens) == 2:
				p = EventParameter{ParamType: tokens[0], Name: tokens[1]}
			case len(tokens) == 3 && tokens[1] == "indexed":
				p = EventParameter{ParamType: tokens[0], Name: tokens[2], IsIndexed: true}
			default:
				return EventSchema{}, fmt.Errorf("%w: bad event parameter %q", ErrInvalidSchema, strings.TrimSpace(part))
			}
			if _, err := abi.NewType(p.ParamType, "", nil); err != nil {
				return EventSchema{}, fmt.Errorf("%w: parameter %q: %v", ErrInvalidSchema, p.Name, err)
			}
			params = append(params, p)
			types = append(types, p.ParamType)
		}
	}

	canonical := name + "(" + strings.Join(types, ",") + ")"
	return EventSchema{
		Params:     params,
		EventTopic: crypto.Keccak256Hash([]byte(canonical)),
	}, nil
}

// Registered reports whether s looks like a stored schema rather than the
// zero value the contract returns for unknown ids.
func (s EventSchema) Registered() bool {
	return s.EventTopic != (common.Hash{})
}
