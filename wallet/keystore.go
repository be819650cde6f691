package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// KeystoreManager Keystore 管理器
//
// 文件格式为 Web3 Secret Storage v3（scrypt + AES-128-CTR），
// 文件名为不带 0x 的小写地址加 .json。
type KeystoreManager struct {
	keystoreDir string
	scryptN     int
	scryptP     int
}

// KeystoreOption Keystore 选项
type KeystoreOption func(*KeystoreManager)

// WithLightScrypt 使用轻量 scrypt 参数（测试与开发环境）
func WithLightScrypt() KeystoreOption {
	return func(km *KeystoreManager) {
		km.scryptN = keystore.LightScryptN
		km.scryptP = keystore.LightScryptP
	}
}

// NewKeystoreManager 创建 Keystore 管理器，目录不存在时创建
func NewKeystoreManager(keystoreDir string, opts ...KeystoreOption) (*KeystoreManager, error) {
	if err := os.MkdirAll(keystoreDir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore directory: %w", err)
	}
	km := &KeystoreManager{
		keystoreDir: keystoreDir,
		scryptN:     keystore.StandardScryptN,
		scryptP:     keystore.StandardScryptP,
	}
	for _, opt := range opts {
		opt(km)
	}
	return km, nil
}

// Save 加密保存钱包私钥，返回文件路径
func (km *KeystoreManager) Save(w Wallet, password string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate key id: %w", err)
	}
	key := &keystore.Key{
		Id:         id,
		Address:    w.Address(),
		PrivateKey: w.PrivateKey(),
	}
	data, err := keystore.EncryptKey(key, password, km.scryptN, km.scryptP)
	if err != nil {
		return "", fmt.Errorf("encrypt key: %w", err)
	}

	path := km.path(w.Address())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write keystore file: %w", err)
	}
	return path, nil
}

// Load 解密并加载钱包
func (km *KeystoreManager) Load(address common.Address, password string) (Wallet, error) {
	data, err := os.ReadFile(km.path(address))
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt key: %w", err)
	}
	if key.Address != address {
		return nil, fmt.Errorf("keystore address mismatch: file has %s", key.Address.Hex())
	}
	return newSimpleWallet(key.PrivateKey), nil
}

// Accounts 列出目录中的账户地址
func (km *KeystoreManager) Accounts() ([]common.Address, error) {
	entries, err := os.ReadDir(km.keystoreDir)
	if err != nil {
		return nil, fmt.Errorf("read keystore directory: %w", err)
	}
	var out []common.Address
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		if e.IsDir() || name == e.Name() || !common.IsHexAddress(name) {
			continue
		}
		out = append(out, common.HexToAddress(name))
	}
	return out, nil
}

func (km *KeystoreManager) path(address common.Address) string {
	return filepath.Join(km.keystoreDir, strings.ToLower(address.Hex()[2:])+".json")
}
