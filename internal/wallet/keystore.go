package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"sol-trader/internal/config"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keystoreVersion  = 1
)

type keystoreFile struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptKey 使用 PBKDF2-SHA256 与 AES-256-GCM 加密私钥，返回可落盘的 JSON。
func EncryptKey(kp *Keypair, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("wallet: 密码不能为空")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: 生成 salt 失败: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: 生成 nonce 失败: %w", err)
	}

	return json.MarshalIndent(keystoreFile{
		Version:    keystoreVersion,
		PublicKey:  kp.PublicKey(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, kp.priv, nil)),
	}, "", "  ")
}

// DecryptKey 解密 EncryptKey 生成的 JSON。
func DecryptKey(data []byte, password string) (*Keypair, error) {
	if password == "" {
		return nil, errors.New("wallet: 密码不能为空")
	}

	var stored keystoreFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("wallet: 解析密钥文件失败: %w", err)
	}
	if stored.Version != keystoreVersion {
		return nil, fmt.Errorf("wallet: 不支持的密钥文件版本 %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("wallet: 解码 salt 失败: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("wallet: 解码 nonce 失败: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("wallet: 解码密文失败: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wallet: 解密失败（密码错误？）: %w", err)
	}

	kp, err := fromBytes(plain)
	if err != nil {
		return nil, err
	}
	if stored.PublicKey != "" && stored.PublicKey != kp.PublicKey() {
		return nil, errors.New("wallet: 密钥文件公钥不匹配")
	}
	return kp, nil
}

// LoadKeypair 按配置加载钱包，明文私钥优先于加密文件。
func LoadKeypair(cfg config.WalletConfig) (*Keypair, error) {
	if cfg.PrivateKey != "" {
		return FromBase58(cfg.PrivateKey)
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("wallet: 读取密钥文件失败: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return nil, errors.New("wallet: 未配置私钥来源")
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wallet: 创建 cipher 失败: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: 创建 GCM 失败: %w", err)
	}
	return gcm, nil
}
