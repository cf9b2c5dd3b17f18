package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	// NativeMint 为 wrapped SOL 的 mint 地址，聚合器用它代表 SOL。
	NativeMint = "So11111111111111111111111111111111111111112"

	pdaMarker = "ProgramDerivedAddress"
)

var errNoViableBump = errors.New("solana: 找不到有效的 bump seed")

// DecodeAddress 解析 base58 公钥。
func DecodeAddress(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("solana: 地址 %q 不是合法 base58: %w", address, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("solana: 地址 %q 长度为 %d，应为 32", address, len(raw))
	}
	return raw, nil
}

// FindProgramAddress 按 bump 从 255 递减推导落在曲线外的 PDA。
func FindProgramAddress(seeds [][]byte, programID []byte) (string, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte(pdaMarker))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, errNoViableBump
}

// TokenPrograms 为代币账户可能归属的程序。
var TokenPrograms = []string{TokenProgramID, Token2022ProgramID}

// IsTokenProgram 判断 program 是否为 SPL Token 或 Token-2022 程序。
func IsTokenProgram(program string) bool {
	return program == TokenProgramID || program == Token2022ProgramID
}

// FindAssociatedTokenAddress 计算 owner 持有 mint 的关联代币账户地址（SPL Token 程序）。
func FindAssociatedTokenAddress(owner, mint string) (string, error) {
	return FindAssociatedTokenAddressWithProgram(owner, mint, TokenProgramID)
}

// FindAssociatedTokenAddressWithProgram 按 mint 所属的代币程序计算关联代币账户地址。
func FindAssociatedTokenAddressWithProgram(owner, mint, program string) (string, error) {
	if !IsTokenProgram(program) {
		return "", fmt.Errorf("solana: %s 不是代币程序", program)
	}
	ownerKey, err := DecodeAddress(owner)
	if err != nil {
		return "", err
	}
	mintKey, err := DecodeAddress(mint)
	if err != nil {
		return "", err
	}
	tokenProgram, err := DecodeAddress(program)
	if err != nil {
		return "", err
	}
	ataProgram, _ := DecodeAddress(AssociatedTokenProgramID)

	addr, _, err := FindProgramAddress([][]byte{ownerKey, tokenProgram, mintKey}, ataProgram)
	if err != nil {
		return "", err
	}
	return addr, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
