package scenario

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Native is the token symbol that denotes the native currency in scenarios.
const Native = "native"

// Action names understood by the runner.
const (
	ActionSetReferral = "set_referral"
	ActionPurchase    = "purchase"
	ActionPurchaseEth = "purchase_eth"
	ActionSetFeeTo    = "set_fee_to"
	ActionAdvanceTime = "advance_time"
	ActionCreatePool  = "create_pool"
)

// Scenario is a scripted sequence of ledger calls. Amounts are human decimal
// strings scaled by the decimals of the token they are denominated in.
type Scenario struct {
	Name    string `yaml:"name"`
	ChainID uint64 `yaml:"chain_id"`
	// Contract is the ledger address. Empty derives it from the minter's
	// first deployment.
	Contract  string             `yaml:"contract"`
	Minter    string             `yaml:"minter"`
	FeeTo     string             `yaml:"fee_to"`
	StartTime uint64             `yaml:"start_time"`
	Accounts  map[string]Account `yaml:"accounts"`
	Tokens    []Token            `yaml:"tokens"`
	Pools     []PoolSpec         `yaml:"pools"`
	Steps     []Step             `yaml:"steps"`
	Checks    []Check            `yaml:"checks"`
}

type Account struct {
	Address string `yaml:"address"`
	Native  string `yaml:"native"`
}

type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	// Balances and Approvals map account names to amounts. Approvals are
	// granted to the ledger.
	Balances  map[string]string `yaml:"balances"`
	Approvals map[string]string `yaml:"approvals"`
}

// PoolSpec is a pool created before the first step. Offsets are seconds
// relative to StartTime.
type PoolSpec struct {
	Name        string   `yaml:"name"`
	Owner       string   `yaml:"owner"`
	SaleToken   string   `yaml:"sale_token"`
	BaseToken   string   `yaml:"base_token"`
	Price       string   `yaml:"price"`
	Limit       string   `yaml:"limit"`
	Offering    string   `yaml:"offering"`
	StartOffset int64    `yaml:"start_offset"`
	Duration    uint64   `yaml:"duration"`
	Curve       string   `yaml:"curve"`
	CurveParams []string `yaml:"curve_params"`
}

type Step struct {
	Action   string `yaml:"action"`
	From     string `yaml:"from"`
	Pool     uint64 `yaml:"pool"`
	Amount   string `yaml:"amount"`
	Referrer string `yaml:"referrer"`
	FeeTo    string `yaml:"fee_to"`
	Seconds  uint64 `yaml:"seconds"`
	// CreatePool carries the pool for create_pool steps.
	CreatePool *PoolSpec `yaml:"create_pool"`
	// ExpectSale is the sale-token amount a purchase must return.
	ExpectSale string `yaml:"expect_sale"`
	// ExpectError is matched as a substring of the revert message.
	ExpectError string `yaml:"expect_error"`
}

// Check asserts a balance after all steps ran.
type Check struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Balance string `yaml:"balance"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario, rejecting unknown fields.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) validate() error {
	if s.Minter == "" {
		return fmt.Errorf("minter is required")
	}
	if _, err := s.resolve(s.Minter); err != nil {
		return fmt.Errorf("minter: %w", err)
	}
	if s.Contract != "" && !common.IsHexAddress(s.Contract) {
		return fmt.Errorf("invalid contract address %q", s.Contract)
	}
	for name, acct := range s.Accounts {
		if !common.IsHexAddress(acct.Address) {
			return fmt.Errorf("account %s: invalid address %q", name, acct.Address)
		}
	}
	seen := make(map[string]bool, len(s.Tokens))
	for _, tok := range s.Tokens {
		key := strings.ToLower(tok.Symbol)
		if key == "" || key == Native {
			return fmt.Errorf("invalid token symbol %q", tok.Symbol)
		}
		if seen[key] {
			return fmt.Errorf("duplicate token %s", tok.Symbol)
		}
		seen[key] = true
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("token %s: invalid address %q", tok.Symbol, tok.Address)
		}
	}
	for i, step := range s.Steps {
		switch step.Action {
		case ActionSetReferral, ActionPurchase, ActionPurchaseEth, ActionSetFeeTo, ActionAdvanceTime:
		case ActionCreatePool:
			if step.CreatePool == nil {
				return fmt.Errorf("step %d: create_pool without pool", i)
			}
		default:
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
	}
	return nil
}

// resolve turns an account name or hex address into an address.
func (s *Scenario) resolve(ref string) (common.Address, error) {
	if acct, ok := s.Accounts[ref]; ok {
		return common.HexToAddress(acct.Address), nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, fmt.Errorf("unknown account %q", ref)
}

func (s *Scenario) token(symbol string) (Token, bool) {
	for _, tok := range s.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return tok, true
		}
	}
	return Token{}, false
}
