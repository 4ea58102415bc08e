package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EnvPrivateKey           = "ARRAKIS_PRIVATE_KEY"
	EnvPrivateKeyFile       = "ARRAKIS_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "ARRAKIS_KEYSTORE_PATH"
	EnvKeystorePassword     = "ARRAKIS_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "ARRAKIS_KEYSTORE_PASSWORD_FILE"

	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"

	defaultPrivateKeyRelativePath = "arrakis/key.hex"
	defaultPrivateKeyHintPath     = "~/.config/arrakis/key.hex"
)

// Signer signs the transactions of an action on behalf of one address.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner holds an in-memory secp256k1 key loaded from env, file or
// keystore.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

type LocalSignerConfig struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

func NewLocalSignerFromEnv(source string) (*LocalSigner, error) {
	return NewLocalSignerFromInputs(source, "")
}

// NewLocalSignerFromInputs resolves key material from the environment for the
// requested source. A non-empty privateKeyOverride (--private-key) wins over
// every other input.
func NewLocalSignerFromInputs(source, privateKeyOverride string) (*LocalSigner, error) {
	if strings.TrimSpace(privateKeyOverride) != "" {
		return NewLocalSigner(LocalSignerConfig{PrivateKeyHex: privateKeyOverride})
	}
	cfg, err := configForSource(source)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(cfg)
}

func configForSource(source string) (LocalSignerConfig, error) {
	env := func(key string) string { return strings.TrimSpace(os.Getenv(key)) }
	keyFile := env(EnvPrivateKeyFile)
	if keyFile == "" {
		keyFile = discoverDefaultPrivateKeyFile()
	}
	keystoreCfg := LocalSignerConfig{
		KeystorePath:         env(EnvKeystorePath),
		KeystorePassword:     env(EnvKeystorePassword),
		KeystorePasswordFile: env(EnvKeystorePasswordFile),
	}

	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", KeySourceAuto:
		cfg := keystoreCfg
		cfg.PrivateKeyHex = env(EnvPrivateKey)
		cfg.PrivateKeyFile = keyFile
		return cfg, nil
	case KeySourceEnv:
		return LocalSignerConfig{PrivateKeyHex: env(EnvPrivateKey)}, nil
	case KeySourceFile:
		return LocalSignerConfig{PrivateKeyFile: keyFile}, nil
	case KeySourceKeystore:
		return keystoreCfg, nil
	default:
		return LocalSignerConfig{}, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
	}
}

func NewLocalSigner(cfg LocalSignerConfig) (*LocalSigner, error) {
	pk, err := loadPrivateKey(cfg)
	if err != nil {
		return nil, err
	}
	pub, ok := pk.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid ECDSA public key")
	}
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(*pub)}, nil
}

func loadPrivateKey(cfg LocalSignerConfig) (*ecdsa.PrivateKey, error) {
	switch {
	case strings.TrimSpace(cfg.PrivateKeyHex) != "":
		return parseHexKey(cfg.PrivateKeyHex)
	case strings.TrimSpace(cfg.PrivateKeyFile) != "":
		buf, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		return parseHexKey(string(buf))
	case strings.TrimSpace(cfg.KeystorePath) != "":
		return loadKeystore(cfg)
	}
	return nil, fmt.Errorf("missing signing key: pass --private-key, write a hex key to %s, or set %s / %s / %s",
		defaultPrivateKeyHintPath, EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
}

func loadKeystore(cfg LocalSignerConfig) (*ecdsa.PrivateKey, error) {
	password := cfg.KeystorePassword
	if strings.TrimSpace(password) == "" && strings.TrimSpace(cfg.KeystorePasswordFile) != "" {
		buf, err := os.ReadFile(cfg.KeystorePasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimSpace(string(buf))
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("keystore password is required")
	}
	buf, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}

func defaultPrivateKeyPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, defaultPrivateKeyRelativePath)
}

func discoverDefaultPrivateKeyFile() string {
	path := defaultPrivateKeyPath()
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
