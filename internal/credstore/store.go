// Пакет credstore — долговременное клиентское хранилище учётных данных:
// access токен, идентификатор сессии и снимок идентичности. Переживает
// перезапуски агента. Файл шифруется AES-256-GCM; бизнес-логики нет.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/gohelpdesk/desk-agent/internal/domain/model"
)

// Credentials — сохраняемое состояние сессии.
// Все поля инвалидируются вместе: при logout или при любом 401.
type Credentials struct {
	// AccessToken — opaque bearer токен
	AccessToken string `json:"access_token"` //nolint:gosec // G117: сериализация хранилища
	// SessionID — идентификатор сессии на бэкенде
	SessionID string `json:"session_id"`
	// Identity — последний известный снимок идентичности
	Identity *model.Identity `json:"identity,omitempty"`
}

// Store — файловое хранилище учётных данных с шифрованием.
// Потокобезопасно; единственный владелец файла.
type Store struct {
	mu     sync.Mutex
	path   string
	gcm    cipher.AEAD
	logger *slog.Logger
}

// New создаёт хранилище.
// path — путь к файлу учётных данных (DA_CRED_FILE).
// key — ключ шифрования (DA_CRED_KEY): base64 32 байта либо произвольная
// строка, хешируемая SHA-256. Пустой ключ — случайный (непостоянный между
// рестартами: сохранённая сессия не переживёт перезапуск).
func New(path, key string, logger *slog.Logger) (*Store, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("генерация ключа хранилища: %w", err)
		}
		logger.Warn("DA_CRED_KEY не задан: сохранённая сессия не переживёт перезапуск")
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			// Не base64 — хешируем строку до 32 байт (для удобства конфигурации)
			h := sha256.Sum256([]byte(key))
			keyBytes = h[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("создание AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("создание GCM: %w", err)
	}

	return &Store{
		path:   path,
		gcm:    gcm,
		logger: logger.With(slog.String("component", "credstore")),
	}, nil
}

// Load читает и дешифрует сохранённые учётные данные.
// Возвращает (nil, nil), если файла нет. Повреждённый или нечитаемый
// нашим ключом файл трактуется как отсутствие данных: файл удаляется.
func (s *Store) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение файла учётных данных: %w", err)
	}

	creds, err := s.decrypt(encrypted)
	if err != nil {
		s.logger.Warn("Файл учётных данных повреждён, сбрасываем",
			slog.String("error", err.Error()),
		)
		_ = os.Remove(s.path)
		return nil, nil
	}
	return creds, nil
}

// Save шифрует и атомарно записывает учётные данные (tmp + rename, 0600).
func (s *Store) Save(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := s.encrypt(creds)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("создание каталога хранилища: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encrypted, 0o600); err != nil {
		return fmt.Errorf("запись файла учётных данных: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("замена файла учётных данных: %w", err)
	}
	return nil
}

// Clear удаляет файл учётных данных. Отсутствие файла — не ошибка.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("удаление файла учётных данных: %w", err)
	}
	return nil
}

// encrypt сериализует и шифрует Credentials (nonce prepended к ciphertext).
func (s *Store) encrypt(creds *Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("сериализация учётных данных: %w", err)
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("генерация nonce: %w", err)
	}

	ciphertext := s.gcm.Seal(nonce, nonce, plaintext, nil)
	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(ciphertext)))
	base64.StdEncoding.Encode(encoded, ciphertext)
	return encoded, nil
}

// decrypt дешифрует и десериализует содержимое файла.
func (s *Store) decrypt(encoded []byte) (*Credentials, error) {
	ciphertext := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(ciphertext, encoded)
	if err != nil {
		return nil, fmt.Errorf("декодирование base64: %w", err)
	}
	ciphertext = ciphertext[:n]

	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("дешифрование учётных данных: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("десериализация учётных данных: %w", err)
	}
	return &creds, nil
}

// TokenExpiry пробует извлечь exp из токена, если тот оказался JWT.
// Подпись не проверяется — для всех API-вызовов токен остаётся opaque
// bearer; exp нужен только для диагностики в логах.
// Возвращает (zero, false) для не-JWT токенов или токенов без exp.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
