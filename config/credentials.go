// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fernet/fernet-go"
)

// Secrets resolve from the environment first and fall back to an optional
// fernet-encrypted credentials file: a fernet token whose plaintext is a JSON
// object mapping secret names to values. The fernet key comes from the
// environment variable named by key_env.
type credentialsConfig struct {
	File   string `yaml:"file"`
	KeyEnv string `yaml:"key_env"`
}

func (c *credentialsConfig) applyDefaults() {
	c.KeyEnv = "NSINGEST_CREDENTIALS_KEY"
}

// names of the secrets the credentials file may carry
const (
	credentialLlmApiKey  = "llm_api_key"
	credentialDbPassword = "db_password"
)

// LlmApiKey resolves the language model API key.
func LlmApiKey() (string, error) {
	return secret(LLM.ApiKeyEnv, credentialLlmApiKey)
}

// DbPassword resolves the destination store password.
func DbPassword() (string, error) {
	return secret(Upload.Database.PasswordEnv, credentialDbPassword)
}

// SourceApiKey resolves the API key for the named source or provider. An
// empty string with no error means the source declared no key requirement.
func SourceApiKey(name string) (string, error) {
	envVar := SourceFor(name).ApiKeyEnv
	if envVar == "" {
		return "", nil
	}
	return secret(envVar, name+"_api_key")
}

func secret(envVar, credentialKey string) (string, error) {
	if envVar != "" {
		if value, found := os.LookupEnv(envVar); found && value != "" {
			return value, nil
		}
	}
	if Credentials.File == "" {
		return "", fmt.Errorf("secret %s not found: %s is unset and no credentials file is configured",
			credentialKey, envVar)
	}
	secrets, err := loadCredentials()
	if err != nil {
		return "", err
	}
	if value, found := secrets[credentialKey]; found && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in credentials file %s", credentialKey, Credentials.File)
}

func loadCredentials() (map[string]string, error) {
	token, err := os.ReadFile(Credentials.File)
	if err != nil {
		return nil, fmt.Errorf("couldn't read credentials file: %w", err)
	}
	encodedKey, found := os.LookupEnv(Credentials.KeyEnv)
	if !found || encodedKey == "" {
		return nil, fmt.Errorf("credentials key variable %s is unset", Credentials.KeyEnv)
	}
	keys, err := fernet.DecodeKeys(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode credentials key: %w", err)
	}
	plaintext := fernet.VerifyAndDecrypt(token, 0, keys)
	if plaintext == nil {
		return nil, fmt.Errorf("couldn't decrypt credentials file %s", Credentials.File)
	}
	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("couldn't parse credentials file: %w", err)
	}
	return secrets, nil
}

// EncryptCredentials renders a secrets mapping as a fernet token suitable
// for a credentials file. Used by operators (and tests) to produce the file.
func EncryptCredentials(secrets map[string]string, encodedKey string) ([]byte, error) {
	keys, err := fernet.DecodeKeys(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("couldn't decode credentials key: %w", err)
	}
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, err
	}
	return fernet.EncryptAndSign(plaintext, keys[0])
}
