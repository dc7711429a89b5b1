package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// WordSize is the width of one ABI word.
const WordSize = 32

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// EncodeAddress left-pads a 20-byte address into one word.
func EncodeAddress(addr string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(addr), "0x"))
	if err != nil || len(raw) != 20 {
		return nil, fmt.Errorf("encode address %q: not a 20-byte hex value", addr)
	}
	word := make([]byte, WordSize)
	copy(word[12:], raw)
	return word, nil
}

// EncodeBool encodes a boolean word.
func EncodeBool(v bool) []byte {
	word := make([]byte, WordSize)
	if v {
		word[WordSize-1] = 1
	}
	return word
}

// EncodeUint encodes a non-negative integer up to 2^256-1.
func EncodeUint(v *big.Int) ([]byte, error) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("encode uint: %s out of range", v)
	}
	return v.FillBytes(make([]byte, WordSize)), nil
}

// EncodeString encodes a single dynamic string return value: offset word,
// length word, then the bytes right-padded to a word boundary.
func EncodeString(s string) []byte {
	data := []byte(s)
	padded := (len(data) + WordSize - 1) / WordSize * WordSize
	out := make([]byte, 2*WordSize+padded)
	big.NewInt(WordSize).FillBytes(out[:WordSize])
	big.NewInt(int64(len(data))).FillBytes(out[WordSize : 2*WordSize])
	copy(out[2*WordSize:], data)
	return out
}

// DecodeAddress reads the first word as an address.
func DecodeAddress(data []byte) (string, error) {
	if len(data) < WordSize {
		return "", fmt.Errorf("decode address: %d bytes", len(data))
	}
	return "0x" + hex.EncodeToString(data[12:WordSize]), nil
}

// DecodeBool reads the first word as a boolean.
func DecodeBool(data []byte) (bool, error) {
	v, err := DecodeUint(data)
	if err != nil {
		return false, err
	}
	switch v.Sign() {
	case 0:
		return false, nil
	default:
		if v.Cmp(big.NewInt(1)) != 0 {
			return false, fmt.Errorf("decode bool: word is %s", v)
		}
		return true, nil
	}
}

// DecodeUint reads the first word as an unsigned integer.
func DecodeUint(data []byte) (*big.Int, error) {
	if len(data) < WordSize {
		return nil, fmt.Errorf("decode uint: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:WordSize]), nil
}

// DecodeString reads a single dynamic string return value.
func DecodeString(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	offset, err := DecodeUint(data)
	if err != nil {
		return "", fmt.Errorf("decode string offset: %w", err)
	}
	if !offset.IsInt64() || offset.Int64()+WordSize > int64(len(data)) {
		return "", fmt.Errorf("decode string: offset %s out of range", offset)
	}
	start := offset.Int64()
	length := new(big.Int).SetBytes(data[start : start+WordSize])
	if !length.IsInt64() || start+WordSize+length.Int64() > int64(len(data)) {
		return "", fmt.Errorf("decode string: length %s out of range", length)
	}
	body := data[start+WordSize : start+WordSize+length.Int64()]
	return string(body), nil
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

// decodeResult turns raw return data into a ReadResult. The zero address and
// the empty string mean "no value", which is an answer and not an error.
func decodeResult(act domain.SmartContractAction, data []byte) (domain.ReadResult, error) {
	res := domain.ReadResult{ActionID: act.ID, Returns: act.Returns}
	switch act.Returns {
	case domain.ReturnAddress:
		if len(data) == 0 {
			return res, nil
		}
		addr, err := DecodeAddress(data)
		if err != nil {
			return res, err
		}
		res.Found = addr != zeroAddress
		if res.Found {
			res.Address = addr
		}
	case domain.ReturnBool:
		v, err := DecodeBool(data)
		if err != nil {
			return res, err
		}
		res.Found, res.Bool = true, v
	case domain.ReturnUint:
		v, err := DecodeUint(data)
		if err != nil {
			return res, err
		}
		res.Found, res.Amount = true, v
	case domain.ReturnString:
		s, err := DecodeString(data)
		if err != nil {
			return res, err
		}
		res.Found, res.Text = s != "", s
	default:
		res.Found = true
	}
	return res, nil
}
