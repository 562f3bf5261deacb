package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Receipt attests one committed ledger event.
	receiptTypeHash = ethcrypto.Keccak256(
		[]byte("Receipt(uint256 sequence,string kind,address caller,uint256 itemId,uint256 collectionId,uint256 amount,uint256 occurredAt)"),
	)

	// Request authenticates one mutating HTTP call.
	requestTypeHash = ethcrypto.Keccak256(
		[]byte("Request(address caller,string method,string path,bytes32 bodyHash,uint256 value,uint256 timestamp)"),
	)
)

const (
	domainName    = "MarketLedger"
	domainVersion = "1"
)

// ErrBadSignature is returned when a signature is malformed or recovers to
// an unexpected address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Domain is the EIP-712 signing domain shared by receipts and requests.
type Domain struct {
	ChainID           int64
	VerifyingContract common.Address
}

// Separator returns keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(domainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		bigIntTo32Bytes(big.NewInt(d.ChainID)),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// Receipt is the signed form of an emitted ledger event.
type Receipt struct {
	Sequence     uint64
	Kind         string
	Caller       common.Address
	ItemID       uint64
	CollectionID uint64
	Amount       uint256.Int
	OccurredAt   int64 // unix seconds
}

func (r Receipt) structHash() []byte {
	amount := r.Amount.Bytes32()
	return ethcrypto.Keccak256(
		receiptTypeHash,
		uint64To32Bytes(r.Sequence),
		ethcrypto.Keccak256([]byte(r.Kind)),
		common.LeftPadBytes(r.Caller.Bytes(), 32),
		uint64To32Bytes(r.ItemID),
		uint64To32Bytes(r.CollectionID),
		amount[:],
		bigIntTo32Bytes(big.NewInt(r.OccurredAt)),
	)
}

// Request is what an HTTP caller signs to authenticate a mutating call.
type Request struct {
	Caller    common.Address
	Method    string
	Path      string
	Body      []byte
	Value     uint256.Int
	Timestamp int64 // unix seconds
}

func (r Request) structHash() []byte {
	value := r.Value.Bytes32()
	return ethcrypto.Keccak256(
		requestTypeHash,
		common.LeftPadBytes(r.Caller.Bytes(), 32),
		ethcrypto.Keccak256([]byte(strings.ToUpper(r.Method))),
		ethcrypto.Keccak256([]byte(r.Path)),
		ethcrypto.Keccak256(r.Body),
		value[:],
		bigIntTo32Bytes(big.NewInt(r.Timestamp)),
	)
}

// Signer produces EIP-712 signatures with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     Domain
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string, d Domain) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     d,
		domainSep:  d.Separator(),
	}, nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Domain returns the signing domain.
func (s *Signer) Domain() Domain {
	return s.domain
}

// SignReceipt returns a 0x-prefixed 65-byte signature over r.
func (s *Signer) SignReceipt(r Receipt) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, r.structHash()))
}

// SignRequest returns a 0x-prefixed 65-byte signature over r. Clients use it;
// the server only verifies.
func (s *Signer) SignRequest(r Request) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, r.structHash()))
}

// RecoverRequest returns the address that signed r under d.
func RecoverRequest(d Domain, r Request, sigHex string) (common.Address, error) {
	return recoverDigest(eip712Hash(d.Separator(), r.structHash()), sigHex)
}

// RecoverReceipt returns the address that signed r under d.
func RecoverReceipt(d Domain, r Receipt, sigHex string) (common.Address, error) {
	return recoverDigest(eip712Hash(d.Separator(), r.structHash()), sigHex)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// signDigest signs a 32-byte digest and returns hex(r || s || v) with v in
// {27, 28}.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

func recoverDigest(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func uint64To32Bytes(v uint64) []byte {
	return bigIntTo32Bytes(new(big.Int).SetUint64(v))
}
