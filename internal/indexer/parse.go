package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"idoScope/internal/ido"
)

// ParseAddresses converts string addresses into common.Address, dropping
// blanks and duplicates.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	seen := make(map[common.Address]bool, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addr := common.HexToAddress(input)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseTopic0 converts topic0 inputs into hashes. An input is either a 32-byte
// hex hash or an IDO event name such as "SaleTokenPurchased". No inputs
// selects every IDO event.
func ParseTopic0(inputs []string) ([]common.Hash, error) {
	parsed, err := ido.ABI()
	if err != nil {
		return nil, err
	}

	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if event, ok := parsed.Events[input]; ok {
			topics = append(topics, event.ID)
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic0: %s", input)
		}
		if len(data) != 32 {
			return nil, fmt.Errorf("invalid topic0 length: %s", input)
		}
		topics = append(topics, common.BytesToHash(data))
	}

	if len(topics) == 0 {
		for _, event := range parsed.Events {
			topics = append(topics, event.ID)
		}
	}
	return topics, nil
}
