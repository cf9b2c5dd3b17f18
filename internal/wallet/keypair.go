package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const signatureLen = 64

// Keypair 为交易签名使用的 ed25519 密钥对。
type Keypair struct {
	priv ed25519.PrivateKey
	pub  string
}

// FromBase58 解析 base58 编码的私钥，支持 64 字节完整私钥或 32 字节种子。
func FromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("wallet: 私钥不是合法 base58: %w", err)
	}
	return fromBytes(raw)
}

func fromBytes(raw []byte) (*Keypair, error) {
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(append([]byte(nil), raw...))
		derived := ed25519.NewKeyFromSeed(priv.Seed())
		if !derived.Equal(priv) {
			return nil, errors.New("wallet: 私钥与公钥不匹配")
		}
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("wallet: 私钥长度 %d 无效", len(raw))
	}
	return &Keypair{
		priv: priv,
		pub:  base58.Encode(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// PublicKey 返回 base58 公钥。
func (k *Keypair) PublicKey() string {
	return k.pub
}

// Secret 返回 base58 编码的 64 字节私钥。
func (k *Keypair) Secret() string {
	return base58.Encode(k.priv)
}

// Sign 对消息签名。
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// SignTransaction 在未签名交易中填入本钱包签名，返回签名后的交易与 base58 签名。
// 同时支持 legacy 与 v0 消息格式。
func (k *Keypair) SignTransaction(unsigned []byte) ([]byte, string, error) {
	numSigs, n, err := decodeCompactU16(unsigned)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: 解析签名数量失败: %w", err)
	}
	msgStart := n + numSigs*signatureLen
	if numSigs == 0 || msgStart >= len(unsigned) {
		return nil, "", errors.New("wallet: 交易格式无效")
	}
	message := unsigned[msgStart:]

	keys, required, err := messageSigners(message)
	if err != nil {
		return nil, "", err
	}

	self, err := base58.Decode(k.pub)
	if err != nil {
		return nil, "", fmt.Errorf("wallet: 公钥解码失败: %w", err)
	}

	slot := -1
	for i := 0; i < required && i < len(keys); i++ {
		if string(keys[i]) == string(self) {
			slot = i
			break
		}
	}
	if slot < 0 || slot >= numSigs {
		return nil, "", fmt.Errorf("wallet: 交易签名者中不包含 %s", k.pub)
	}

	sig := k.Sign(message)
	signed := append([]byte(nil), unsigned...)
	copy(signed[n+slot*signatureLen:], sig)

	return signed, base58.Encode(sig), nil
}

// messageSigners 返回账户列表以及需要签名的账户数量。
func messageSigners(message []byte) ([][]byte, int, error) {
	offset := 0
	if message[0]&0x80 != 0 {
		if version := message[0] & 0x7f; version != 0 {
			return nil, 0, fmt.Errorf("wallet: 不支持的消息版本 %d", version)
		}
		offset = 1
	}
	if len(message) < offset+3 {
		return nil, 0, errors.New("wallet: 消息头不完整")
	}
	required := int(message[offset])
	offset += 3

	numKeys, n, err := decodeCompactU16(message[offset:])
	if err != nil {
		return nil, 0, fmt.Errorf("wallet: 解析账户数量失败: %w", err)
	}
	offset += n
	if len(message) < offset+numKeys*32 {
		return nil, 0, errors.New("wallet: 账户列表不完整")
	}

	keys := make([][]byte, numKeys)
	for i := range keys {
		keys[i] = message[offset+i*32 : offset+(i+1)*32]
	}
	return keys, required, nil
}

func decodeCompactU16(b []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("compact-u16 数据不完整")
		}
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, errors.New("compact-u16 超出长度")
}
