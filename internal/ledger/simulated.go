package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/ens"
	"golang.org/x/crypto/sha3"
)

const secondsPerYear = 365 * 24 * 60 * 60

var (
	// DefaultFee is the flat fee the simulated ledger charges per transaction.
	DefaultFee = big.NewInt(100_000_000_000_000) // 0.0001

	yearlyRent = map[int]*big.Int{
		3: big.NewInt(100_000_000_000_000_000), // 0.1
		4: big.NewInt(30_000_000_000_000_000),  // 0.03
	}
	defaultYearlyRent = big.NewInt(3_000_000_000_000_000) // 0.003
)

type nameEntry struct {
	owner  string
	expiry int64
}

// Simulated is an in-memory Provider implementing the subset of ENS and
// smart-account behaviour the pipeline uses. It backs local development and
// tests; state lives for the lifetime of the value.
type Simulated struct {
	mu sync.Mutex

	fee      *big.Int
	block    uint64
	nextTx   uint64
	names    map[string]nameEntry // label -> registration
	owners   map[string]string    // node -> owner
	addrs    map[string]string    // node -> address record
	texts    map[string]string    // node/key -> text record
	reverse  map[string]string    // reverse node -> name
	balances map[string]*big.Int
	accounts map[string]string // smart account -> owner
	receipts map[string]*Receipt
	failures map[string]int
	sent     []Tx
}

// NewSimulated returns an empty simulated ledger.
func NewSimulated() *Simulated {
	return &Simulated{
		fee:      new(big.Int).Set(DefaultFee),
		names:    make(map[string]nameEntry),
		owners:   make(map[string]string),
		addrs:    make(map[string]string),
		texts:    make(map[string]string),
		reverse:  make(map[string]string),
		balances: make(map[string]*big.Int),
		accounts: make(map[string]string),
		receipts: make(map[string]*Receipt),
		failures: make(map[string]int),
	}
}

// Fund credits address with amount.
func (s *Simulated) Fund(address string, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(strings.ToLower(address), amount)
}

// SetAddr seeds a registered name pointing at address.
func (s *Simulated) SetAddr(name, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = ens.Normalize(name)
	label, _, _ := strings.Cut(name, ".")
	s.names[label] = nameEntry{owner: strings.ToLower(address), expiry: 1 << 40}
	node := ens.NamehashHex(name)
	s.owners[node] = strings.ToLower(address)
	s.addrs[node] = strings.ToLower(address)
}

// SetPrimaryName seeds the reverse record of address.
func (s *Simulated) SetPrimaryName(address, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reverse[ens.NamehashHex(ens.ReverseName(address))] = ens.Normalize(name)
}

// FailNext makes the next n calls of method fail with a network error.
// method is one of call, estimate, send, receipt, balance.
func (s *Simulated) FailNext(method string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] += n
}

// Sent returns the transactions submitted so far.
func (s *Simulated) Sent() []Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tx(nil), s.sent...)
}

// AccountAddress derives the smart account of owner for salt, the same way
// the simulated factory does.
func AccountAddress(owner, salt string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToLower(owner)))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

func (s *Simulated) injected(method string) error {
	if s.failures[method] > 0 {
		s.failures[method]--
		return fmt.Errorf("%w: simulated %s failure", domain.ErrNetwork, method)
	}
	return nil
}

// Call implements Provider.
func (s *Simulated) Call(_ context.Context, _, function string, args []string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("call"); err != nil {
		return nil, err
	}

	switch function {
	case "addr":
		if err := wantArgs(function, args, 1); err != nil {
			return nil, err
		}
		addr := s.addrs[args[0]]
		if addr == "" {
			addr = zeroAddress
		}
		return EncodeAddress(addr)
	case "name":
		if err := wantArgs(function, args, 1); err != nil {
			return nil, err
		}
		return EncodeString(s.reverse[args[0]]), nil
	case "text":
		if err := wantArgs(function, args, 2); err != nil {
			return nil, err
		}
		return EncodeString(s.texts[args[0]+"/"+args[1]]), nil
	case "available":
		if err := wantArgs(function, args, 1); err != nil {
			return nil, err
		}
		_, taken := s.names[args[0]]
		return EncodeBool(!taken && len(args[0]) >= ens.MinLabelLength), nil
	case "rentPrice":
		if err := wantArgs(function, args, 2); err != nil {
			return nil, err
		}
		price, err := rentPrice(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return EncodeUint(price)
	case "getAddress":
		if err := wantArgs(function, args, 2); err != nil {
			return nil, err
		}
		acct := AccountAddress(args[0], args[1])
		s.accounts[acct] = strings.ToLower(args[0])
		return EncodeAddress(acct)
	default:
		return nil, &domain.RevertError{Reason: "unknown function " + function}
	}
}

// EstimateCost implements Provider. It dry-runs tx and reports reverts the
// way a real node's estimate does.
func (s *Simulated) EstimateCost(_ context.Context, tx Tx) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("estimate"); err != nil {
		return nil, err
	}
	if reason := s.check(tx); reason != "" {
		return nil, &domain.RevertError{Reason: reason}
	}
	return new(big.Int).Set(s.fee), nil
}

// SendTransaction implements Provider. A transaction that fails its checks
// is still mined, with a failed receipt.
func (s *Simulated) SendTransaction(_ context.Context, tx Tx) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("send"); err != nil {
		return "", err
	}

	from := strings.ToLower(tx.From)
	value := valueOf(tx)
	need := new(big.Int).Add(value, s.fee)
	if s.balanceOf(from).Cmp(need) < 0 {
		return "", fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientBalance, from, s.balanceOf(from), need)
	}

	s.nextTx++
	s.block++
	txID := fmt.Sprintf("0x%064x", s.nextTx)
	s.sent = append(s.sent, tx)
	receipt := &Receipt{TxID: txID, BlockNumber: s.block, Cost: new(big.Int).Set(s.fee)}

	s.debit(from, s.fee)
	if reason := s.check(tx); reason != "" {
		receipt.RevertReason = reason
	} else {
		s.debit(from, value)
		s.apply(tx)
		receipt.Success = true
	}
	s.receipts[txID] = receipt
	return txID, nil
}

// GetTransactionReceipt implements Provider.
func (s *Simulated) GetTransactionReceipt(_ context.Context, txID string) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("receipt"); err != nil {
		return nil, err
	}
	r, ok := s.receipts[txID]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

// Balance implements Provider.
func (s *Simulated) Balance(_ context.Context, address string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("balance"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.balanceOf(strings.ToLower(address))), nil
}

// check returns a revert reason, or "" when tx would succeed.
func (s *Simulated) check(tx Tx) string {
	from := strings.ToLower(tx.From)
	value := valueOf(tx)
	switch tx.Function {
	case "register":
		if len(tx.Args) != 4 {
			return "register: bad arguments"
		}
		if _, taken := s.names[tx.Args[0]]; taken {
			return "name not available"
		}
		price, err := rentPrice(tx.Args[0], tx.Args[2])
		if err != nil {
			return err.Error()
		}
		if value.Cmp(price) < 0 {
			return "insufficient value for rent"
		}
	case "setAddr", "setText":
		if len(tx.Args) < 2 {
			return tx.Function + ": bad arguments"
		}
		if !s.authorized(from, tx.Args[0]) {
			return "not authorised to change this name"
		}
	case "execute":
		if len(tx.Args) != 3 {
			return "execute: bad arguments"
		}
		if amount, ok := new(big.Int).SetString(tx.Args[1], 10); !ok || amount.Cmp(value) != 0 {
			return "execute: value mismatch"
		}
	case "executeBatch":
		if len(tx.Args) == 0 || len(tx.Args)%2 != 0 {
			return "executeBatch: bad arguments"
		}
		sum := new(big.Int)
		for i := 1; i < len(tx.Args); i += 2 {
			amount, ok := new(big.Int).SetString(tx.Args[i], 10)
			if !ok {
				return "executeBatch: bad amount"
			}
			sum.Add(sum, amount)
		}
		if sum.Cmp(value) != 0 {
			return "executeBatch: value mismatch"
		}
	default:
		return "unknown function " + tx.Function
	}
	return ""
}

func (s *Simulated) apply(tx Tx) {
	switch tx.Function {
	case "register":
		label, owner := tx.Args[0], strings.ToLower(tx.Args[1])
		seconds, _ := strconv.ParseInt(tx.Args[2], 10, 64)
		s.names[label] = nameEntry{owner: owner, expiry: seconds}
		node := ens.NamehashHex(label + "." + ens.TLD)
		s.owners[node] = owner
		s.addrs[node] = owner
	case "setAddr":
		s.addrs[tx.Args[0]] = strings.ToLower(tx.Args[1])
	case "setText":
		if len(tx.Args) == 3 {
			s.texts[tx.Args[0]+"/"+tx.Args[1]] = tx.Args[2]
		}
	case "execute":
		amount, _ := new(big.Int).SetString(tx.Args[1], 10)
		s.credit(strings.ToLower(tx.Args[0]), amount)
	case "executeBatch":
		for i := 0; i+1 < len(tx.Args); i += 2 {
			amount, _ := new(big.Int).SetString(tx.Args[i+1], 10)
			s.credit(strings.ToLower(tx.Args[i]), amount)
		}
	}
}

func (s *Simulated) authorized(from, node string) bool {
	owner := s.owners[node]
	if owner == "" {
		return false
	}
	return from == owner || s.accounts[from] == owner
}

func (s *Simulated) balanceOf(addr string) *big.Int {
	if b, ok := s.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (s *Simulated) credit(addr string, amount *big.Int) {
	s.balances[addr] = new(big.Int).Add(s.balanceOf(addr), amount)
}

func (s *Simulated) debit(addr string, amount *big.Int) {
	s.balances[addr] = new(big.Int).Sub(s.balanceOf(addr), amount)
}

func valueOf(tx Tx) *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

func rentPrice(label, seconds string) (*big.Int, error) {
	secs, ok := new(big.Int).SetString(seconds, 10)
	if !ok || secs.Sign() <= 0 {
		return nil, fmt.Errorf("rentPrice: bad duration %q", seconds)
	}
	yearly := defaultYearlyRent
	if p, ok := yearlyRent[len(label)]; ok {
		yearly = p
	}
	price := new(big.Int).Mul(yearly, secs)
	return price.Quo(price, big.NewInt(secondsPerYear)), nil
}

func wantArgs(function string, args []string, n int) error {
	if len(args) != n {
		return &domain.RevertError{Reason: fmt.Sprintf("%s: want %d arguments, got %d", function, n, len(args))}
	}
	return nil
}
