package store

import (
	"github.com/GifariKemal/iiot-gateway-core/internal/security"
)

// EncryptedStore wraps a Store so MQTT and wifi credentials are encrypted
// before they reach the underlying backing and decrypted on the way back
// out, transparent to every caller (internal/mqttpub, internal/command,
// internal/orchestrator never see ciphertext). Grounded on spec.md §6's
// credential fields combined with the teacher's layered-service wrapping
// pattern (internal/saas's service_adapter.go wraps a plain client the same
// way).
type EncryptedStore struct {
	Store
	cipher *security.CredentialCipher
}

// NewEncryptedStore wraps next with credential encryption keyed by
// masterKey. An empty masterKey is accepted (local/dev use) but the
// resulting protection is nominal.
func NewEncryptedStore(next Store, masterKey string) *EncryptedStore {
	return &EncryptedStore{Store: next, cipher: security.NewCredentialCipher(masterKey)}
}

func (s *EncryptedStore) GetServerConfig() (*ServerConfig, error) {
	cfg, err := s.Store.GetServerConfig()
	if err != nil {
		return nil, err
	}
	if cfg.MQTT.Password != "" {
		if plain, derr := s.cipher.Decrypt(cfg.MQTT.Password); derr == nil {
			cfg.MQTT.Password = plain
		}
	}
	if cfg.Network.Wifi.Password != "" {
		if plain, derr := s.cipher.Decrypt(cfg.Network.Wifi.Password); derr == nil {
			cfg.Network.Wifi.Password = plain
		}
	}
	return cfg, nil
}

func (s *EncryptedStore) PutServerConfig(cfg *ServerConfig) error {
	toStore := *cfg
	if toStore.MQTT.Password != "" {
		enc, err := s.cipher.Encrypt(toStore.MQTT.Password)
		if err != nil {
			return err
		}
		toStore.MQTT.Password = enc
	}
	if toStore.Network.Wifi.Password != "" {
		enc, err := s.cipher.Encrypt(toStore.Network.Wifi.Password)
		if err != nil {
			return err
		}
		toStore.Network.Wifi.Password = enc
	}
	return s.Store.PutServerConfig(&toStore)
}
