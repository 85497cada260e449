package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/store"
)

const refPrefix = "secret:"

var ErrSecretNotFound = errors.New("secret not found")

// Secrets keeps named, encrypted values in the store.
type Secrets struct {
	vault *Vault
	store *store.Store
}

func NewSecrets(v *Vault, s *store.Store) *Secrets {
	return &Secrets{vault: v, store: s}
}

// Set creates or replaces the secret called name.
func (k *Secrets) Set(name, description, value string) (*store.Secret, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("secret name is required")
	}
	ciphertext, nonce, err := k.vault.Encrypt([]byte(value))
	if err != nil {
		return nil, err
	}

	sec, err := k.store.GetSecretByName(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		sec = &store.Secret{ID: uuid.New().String(), Name: name}
	}
	if description != "" {
		sec.Description = description
	}
	sec.Value = ciphertext
	sec.Nonce = nonce
	if err := k.store.SaveSecret(sec); err != nil {
		return nil, err
	}
	return sec, nil
}

func (k *Secrets) Get(name string) (string, error) {
	sec, err := k.store.GetSecretByName(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	plaintext, err := k.vault.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", name, err)
	}
	return string(plaintext), nil
}

func (k *Secrets) Delete(name string) error {
	sec, err := k.store.GetSecretByName(name)
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return k.store.DeleteSecret(sec.ID)
}

func (k *Secrets) List() ([]store.Secret, error) {
	return k.store.ListSecrets()
}

// Resolve returns the plaintext behind a "secret:<name>" reference, or the
// value unchanged when it is not a reference.
func (k *Secrets) Resolve(value string) (string, error) {
	name, ok := strings.CutPrefix(value, refPrefix)
	if !ok {
		return value, nil
	}
	return k.Get(name)
}

// ResolveConfig replaces every secret reference in the credential fields of
// cfg. An unresolvable reference is cleared and logged so the backend
// chain can fall through to the next provider.
func (k *Secrets) ResolveConfig(cfg *config.Config) {
	fields := map[string]*string{
		"llm.google_api_key":    &cfg.LLM.GoogleAPIKey,
		"llm.gemini_api_key":    &cfg.LLM.GeminiAPIKey,
		"llm.openai_api_key":    &cfg.LLM.OpenAIAPIKey,
		"llm.anthropic_api_key": &cfg.LLM.AnthropicAPIKey,
		"telegram.token":        &cfg.Telegram.Token,
		"notify.slack_webhook":  &cfg.Notify.SlackWebhook,
		"web.auth":              &cfg.Web.Auth,
	}
	for field, ptr := range fields {
		if !strings.HasPrefix(*ptr, refPrefix) {
			continue
		}
		plaintext, err := k.Resolve(*ptr)
		if err != nil {
			slog.Warn("failed to resolve secret reference", "field", field, "error", err)
			*ptr = ""
			continue
		}
		*ptr = plaintext
	}
}

// IsRef reports whether value is a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix)
}
