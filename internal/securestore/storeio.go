package securestore

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// ReadJSON loads path into v. A missing or empty file leaves v untouched and
// reports false. When secret is set the file must be an encrypted vault;
// plaintext files are only accepted without a secret.
func ReadJSON(path, secret string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if secret != "" {
		raw, err = Decrypt(secret, raw)
		if err != nil {
			return false, err
		}
	} else if IsEncrypted(raw) {
		return false, ErrAuthFailed
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// WriteJSON marshals v, encrypts it when secret is set and replaces path via
// a temp file and rename.
func WriteJSON(path, secret string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if secret != "" {
		payload, err = Encrypt(secret, payload)
		if err != nil {
			return err
		}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
